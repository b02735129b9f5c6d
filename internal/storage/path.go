package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

const archiveRoot = "datasets"

// BuildArchivePath returns the object key of the Parquet export of one table
// of a dataset: datasets/<dataset>/<table>.parquet.
func BuildArchivePath(datasetName, tableName string) (string, error) {
	prefix, err := BuildArchivePrefix(datasetName)
	if err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join(prefix, tableName+".parquet"), nil
}

// BuildArchivePrefix returns the key prefix shared by every archived table of
// a dataset, with a trailing slash.
func BuildArchivePrefix(datasetName string) (string, error) {
	if err := validatePathComponent(datasetName, "dataset name"); err != nil {
		return "", err
	}
	return path.Join(archiveRoot, datasetName) + "/", nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
