//go:build !sqlite

package storage

import "errors"

var ErrSQLiteUnavailable = errors.New("sqlite backend unavailable in this build; rebuild with -tags sqlite")

func newSQLiteStore(_ string) (Store, error) {
	return nil, ErrSQLiteUnavailable
}
