package utils

import (
	"strconv"

	"github.com/rs/xid"
)

func GenerateID() string {
	return xid.New().String()
}

// ParseSnowflake converts a gateway snowflake into the numeric id the store
// keys on. Empty or malformed input yields 0, which no real guild or user
// ever has.
func ParseSnowflake(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}

	return id
}

func FormatSnowflake(id int64) string {
	return strconv.FormatInt(id, 10)
}
