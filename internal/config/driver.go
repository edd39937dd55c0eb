package config

import (
	"fmt"
	"strings"
)

type StorageDriver int

const (
	File StorageDriver = iota + 1
	SQLite
	Postgres
	Redis
)

var storageDriverNames = map[StorageDriver]string{
	File:     "file",
	SQLite:   "sqlite",
	Postgres: "postgres",
	Redis:    "redis",
}

// String converts the StorageDriver enum to a human-readable string.
func (d StorageDriver) String() string {
	if name, ok := storageDriverNames[d]; ok {
		return name
	}
	return "unknown"
}

// ParseStorageDriver maps a driver name such as "sqlite" to its StorageDriver.
func ParseStorageDriver(s string) (StorageDriver, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d, n := range storageDriverNames {
		if n == name {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown storage driver %q", s)
}
