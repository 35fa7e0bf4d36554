package postgres

import (
	"database/sql"
	"strings"
)

func toNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return emptyAsNull(*s)
}

// emptyAsNull stores blank optional text as NULL so clearing a field from a form works.
func emptyAsNull(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
