package dbgateway

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// nonChar matches runs of characters that aren't letters/digits/underscore.
var nonChar = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// headOrTailNonChar matches leading or trailing non-alphanumeric runs,
// kept distinct from nonChar because the Python source strips the edges
// without turning them into an underscore, then underscores the rest.
var headOrTailNonChar = regexp.MustCompile(`^[^a-zA-Z0-9]+|[^a-zA-Z0-9]+$`)

// sanitizeTableName derives a safe table identifier from a layer name by
// stripping leading/trailing non-alphanumerics and underscoring every
// other run of non-alphanumerics, matching db/database.py's
// import_spatial_data table-naming fallback.
func sanitizeTableName(layer string) string {
	trimmed := headOrTailNonChar.ReplaceAllString(layer, "")
	return nonChar.ReplaceAllString(trimmed, "_")
}

// identifierRe matches a bare SQL identifier: letters, digits, underscore.
var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// countQuery returns "select count(1) from <ident>" for a bare
// table/view name, or wraps arbitrary SQL as a subquery, per §4.2.
func countQuery(tableOrSQL string) string {
	if identifierRe.MatchString(tableOrSQL) {
		return fmt.Sprintf(`select count(1) from "%s"`, tableOrSQL)
	}
	return fmt.Sprintf("select count(1) from (%s) as tmp_a", tableOrSQL)
}

// dsnParams is the parsed form of a postgres(is)://user[:pwd]@host[:port]/db URL.
type dsnParams struct {
	Host     string
	Port     string
	DBName   string
	User     string
	Password string
}

// normalizeDSN parses a "postgis://" or "postgres://" connection string
// into a lib/pq-compatible DSN, matching
// utils/__init__.py's parse_db_connection_string.
func normalizeDSN(connectionString string) (string, error) {
	p, err := parseDBConnectionString(connectionString)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "host=%s dbname=%s", p.Host, p.DBName)
	if p.Port != "" {
		fmt.Fprintf(&b, " port=%s", p.Port)
	}
	if p.User != "" {
		fmt.Fprintf(&b, " user=%s", p.User)
	}
	if p.Password != "" {
		fmt.Fprintf(&b, " password=%s", p.Password)
	}
	b.WriteString(" sslmode=disable")
	return b.String(), nil
}

func parseDBConnectionString(connectionString string) (dsnParams, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return dsnParams{}, fmt.Errorf("invalid database configuration(%s): %w", connectionString, err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgis" {
		return dsnParams{}, fmt.Errorf("invalid database configuration(%s): unsupported scheme", connectionString)
	}

	p := dsnParams{
		Host:   u.Hostname(),
		Port:   u.Port(),
		DBName: strings.TrimPrefix(u.Path, "/"),
	}
	if u.User != nil {
		p.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			p.Password = pw
		}
	}
	return p, nil
}
