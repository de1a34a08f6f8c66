// Package catalog lists finished recordings in a SQLite database.
package catalog
