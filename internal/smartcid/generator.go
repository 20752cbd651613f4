package smartcid

import (
	"database/sql"
	"math/rand"
)

// defaultExplorationRate is the fraction of calls that get a freshly
// generated pattern instead of the current best scorer, so a prefix's
// stats keep collecting data on patterns other than the leader.
const defaultExplorationRate = 0.1

// minDialableLength is the shortest destination smart CID will act
// on; shorter numbers (internal extensions, short codes) always keep
// the project's static caller ID.
const minDialableLength = 10

// Generator manages smart caller ID selection
type Generator struct {
	db              *sql.DB
	explorationRate float32
}

// NewGenerator creates a new generator with the default exploration rate.
func NewGenerator(db *sql.DB) *Generator {
	return &Generator{db: db, explorationRate: defaultExplorationRate}
}

// SetExplorationRate overrides the fraction of calls that bypass the
// best-scoring pattern in favor of a random one. rate is clamped to [0,1].
func (g *Generator) SetExplorationRate(rate float32) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	g.explorationRate = rate
}

// GetCallerID selects the standard CID or generates a smart one
func (g *Generator) GetCallerID(targetPhone string, projectCID string, smartActive bool) string {
	if !smartActive || len(targetPhone) < minDialableLength {
		return projectCID
	}

	// Prefix (LADA): first 3 digits of a 10-digit number, or of the
	// last 10 digits when a country code is prepended.
	prefix := ""
	if len(targetPhone) == minDialableLength {
		prefix = targetPhone[:3]
	} else if len(targetPhone) > minDialableLength {
		last10 := targetPhone[len(targetPhone)-minDialableLength:]
		prefix = last10[:3]
	}

	if prefix == "" {
		return projectCID
	}

	bestPattern := g.findBestPattern(prefix)
	return g.generateFromPattern(prefix, bestPattern)
}

func (g *Generator) findBestPattern(prefix string) string {
	if rand.Float32() < g.explorationRate {
		return ""
	}

	query := `SELECT pattern FROM apicall_callerid_stats
	          WHERE prefix = ? AND attempts > 10
	          ORDER BY score DESC LIMIT 1`

	var pattern string
	err := g.db.QueryRow(query, prefix).Scan(&pattern)
	if err != nil {
		return "" // sin datos suficientes, generar aleatorio
	}
	return pattern
}

func (g *Generator) generateFromPattern(prefix, pattern string) string {
	if pattern == "" {
		pattern = prefix + "XXXXXXX"
	}

	res := []byte(pattern)
	for i, b := range res {
		if b == 'X' {
			res[i] = byte('0' + rand.Intn(10))
		}
	}

	go g.ensurePatternExists(prefix, string(res))

	return string(res)
}

// ensurePatternExists seeds a stats row for prefix's broad pattern
// (prefix + 7 wildcard digits) so UpdateStats has something to update.
func (g *Generator) ensurePatternExists(prefix, fullNumber string) {
	pattern := prefix + "XXXXXXX"

	query := `INSERT IGNORE INTO apicall_callerid_stats (prefix, pattern, attempts, answers, score) VALUES (?, ?, 0, 0, 0)`
	g.db.Exec(query, prefix, pattern)
}

// UpdateStats updates the score for a prefix/pattern
func (g *Generator) UpdateStats(callerID string, answered bool) {
	if len(callerID) < minDialableLength {
		return
	}

	prefix := callerID[:3]
	pattern := prefix + "XXXXXXX"

	scoreInc := 0
	if answered {
		scoreInc = 1
	}

	query := `UPDATE apicall_callerid_stats
	          SET attempts = attempts + 1,
	              answers = answers + ?,
	              score = (answers / attempts)
	          WHERE pattern = ?`

	g.db.Exec(query, scoreInc, pattern)
}
