package database

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultBlockedTermsURL is the community profanity list used to seed the filter
const DefaultBlockedTermsURL = "https://raw.githubusercontent.com/LDNOOBW/List-of-Dirty-Naughty-Obscene-and-Otherwise-Bad-Words/refs/heads/master/en"

// SeedBlockedTerms fetches and seeds the blocked terms list and returns how
// many terms were added. It is a no-op when the table already has rows.
func (db *DB) SeedBlockedTerms(ctx context.Context, client *http.Client, sourceURL string) (int, error) {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blocked_terms").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to check blocked terms count: %w", err)
	}

	if count > 0 {
		return 0, nil
	}

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build blocked terms request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download blocked terms list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("bad status code from blocked terms URL: %d", resp.StatusCode)
	}

	// Start transaction for bulk insert
	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insertQuery := db.Dialect.InsertIgnore("blocked_terms", "term")
	stmt, err := tx.PrepareContext(ctx, db.Dialect.RewriteQuery(insertQuery))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	scanner := bufio.NewScanner(resp.Body)
	added := 0
	for scanner.Scan() {
		term := strings.TrimSpace(strings.ToLower(scanner.Text()))
		if term == "" {
			continue
		}
		result, err := stmt.ExecContext(ctx, term)
		if err != nil {
			// Skip bad rows, continue adding others
			continue
		}
		if n, err := result.RowsAffected(); err == nil {
			added += int(n)
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("error reading blocked terms: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return added, nil
}

// BlockedTerms returns every stored blocked term
func (db *DB) BlockedTerms(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT term FROM blocked_terms ORDER BY term")
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked terms: %w", err)
	}
	defer rows.Close()

	var terms []string
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, fmt.Errorf("failed to scan blocked term: %w", err)
		}
		terms = append(terms, term)
	}
	return terms, rows.Err()
}
