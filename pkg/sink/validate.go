package sink

import "regexp"

// tableNameRE bounds the legal identifiers accepted for the logs table
// name. Identifiers are validated rather than quoted: the set of legal
// names is narrow and fully specifiable, which avoids a whole category
// of quoting-edge-case bugs across three database dialects.
var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// partitionNameRE bounds PostgreSQL monthly partition names, derived
// from the parent table name "logs".
var partitionNameRE = regexp.MustCompile(`^logs_\d{4}_(0[1-9]|1[0-2])$`)

func validTableName(name string) bool     { return tableNameRE.MatchString(name) }
func validPartitionName(name string) bool { return partitionNameRE.MatchString(name) }
