package configlibsql

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Struct selects a database, Url takes precedence over File when both are set.
type Struct struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Struct) Empty() bool {
	return config.File == "" && config.Url == ""
}

func (config Struct) OpenDB() (*sql.DB, error) {
	if config.Url != "" {
		return openRemote(config.Url, config.AuthToken)
	}
	if config.File == "" {
		return nil, fmt.Errorf("neither a file nor a url was specified")
	}
	return openFile(config.File)
}

func openRemote(dbUrl, authToken string) (*sql.DB, error) {
	if authToken == "" {
		return sql.Open("libsql", dbUrl)
	}
	values := url.Values{}
	values.Add("authToken", authToken)
	return sql.Open("libsql", dbUrl+"?"+values.Encode())
}

func openFile(path string) (*sql.DB, error) {
	dbpath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(filepath.Dir(dbpath), 0700)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbpath)
	if err != nil {
		return nil, err
	}
	// see this stackoverflow post for information on why the following
	// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
