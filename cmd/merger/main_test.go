package main

import (
	"flag"
	"io"
	"reflect"
	"testing"
)

func TestStringsFlagRepeats(t *testing.T) {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var mssql stringsFlag
	fs.Var(&mssql, "mssql", "")
	if err := fs.Parse([]string{"--mssql", "a.csv", "--mssql=b.csv"}); err != nil {
		t.Fatal(err)
	}
	if want := (stringsFlag{"a.csv", "b.csv"}); !reflect.DeepEqual(mssql, want) {
		t.Errorf("mssql = %v, want %v", mssql, want)
	}
	if mssql.String() != "a.csv,b.csv" {
		t.Errorf("String() = %q", mssql.String())
	}
}
