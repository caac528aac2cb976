package util

import (
	"os"
	"strconv"
	"strings"
)

// Env reads an env var, falling back to def when unset or blank.
func Env(k, def string) string {
	v, ok := os.LookupEnv(k)
	if !ok {
		return def
	}
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

// BoolEnv reads an env var as bool. Empty or unparseable values fall back
// to def; strconv.ParseBool accepts 1/t/true/0/f/false in any case.
func BoolEnv(k string, def bool) bool {
	b, err := strconv.ParseBool(Env(k, ""))
	if err != nil {
		return def
	}
	return b
}

// IntEnv reads an env var as int, falling back to def when unset or
// unparseable.
func IntEnv(k string, def int) int {
	n, err := strconv.Atoi(Env(k, ""))
	if err != nil {
		return def
	}
	return n
}
