package database

import "database/sql"

// InsertEvidenceArticle stores one evidence article. Returns the ID on
// success, 0 if the PMID or URL is already stored.
func (db *DB) InsertEvidenceArticle(a *EvidenceArticle) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO evidence_articles
			(pmid, title, abstract, authors, journal, year, publication_types, url, query)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.PMID, a.Title, a.Abstract, a.Authors, a.Journal, a.Year,
		a.PubTypes, a.URL, a.Query,
	)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil || affected == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetEvidenceForQuery returns stored articles matching a query string,
// newest first.
func (db *DB) GetEvidenceForQuery(query string, limit int) ([]EvidenceArticle, error) {
	rows, err := db.conn.Query(
		`SELECT id, pmid, title, abstract, authors, journal, year,
			publication_types, url, query, fetched_at
		FROM evidence_articles WHERE query = ?
		ORDER BY fetched_at DESC, id DESC LIMIT ?`, query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvidenceArticles(rows)
}

// GetRecentEvidence returns the most recently stored articles.
func (db *DB) GetRecentEvidence(limit int) ([]EvidenceArticle, error) {
	rows, err := db.conn.Query(
		`SELECT id, pmid, title, abstract, authors, journal, year,
			publication_types, url, query, fetched_at
		FROM evidence_articles ORDER BY fetched_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvidenceArticles(rows)
}

func scanEvidenceArticles(rows *sql.Rows) ([]EvidenceArticle, error) {
	var articles []EvidenceArticle
	for rows.Next() {
		var a EvidenceArticle
		if err := rows.Scan(
			&a.ID, &a.PMID, &a.Title, &a.Abstract, &a.Authors, &a.Journal,
			&a.Year, &a.PubTypes, &a.URL, &a.Query, &a.FetchedAt,
		); err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}
