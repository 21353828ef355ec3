package repository

// Schema definitions for the CreditTwin database.
// Compatible with both SQLite and PostgreSQL.

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    application_id TEXT PRIMARY KEY,
    applicant_id TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    requested_amount DOUBLE PRECISION,
    fico DOUBLE PRECISION,
    application_date TIMESTAMP NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_applicant ON cases(applicant_id);
CREATE INDEX IF NOT EXISTS idx_cases_outcome ON cases(outcome);
CREATE INDEX IF NOT EXISTS idx_cases_date ON cases(application_date);
`

// schemaClients keeps one profile per applicant, written on first sight.
const schemaClients = `
CREATE TABLE IF NOT EXISTS clients (
    applicant_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    employment TEXT NOT NULL,
    region TEXT,
    sector TEXT,
    fico DOUBLE PRECISION NOT NULL,
    first_seen TIMESTAMP NOT NULL
);
`

const schemaDecisions = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    applicant_id TEXT NOT NULL DEFAULT '',
    verdict TEXT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL,
    decision TEXT NOT NULL,
    application TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_applicant ON decisions(applicant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_verdict ON decisions(verdict);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    value_expression TEXT,
    severity TEXT NOT NULL,
    message TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCases,
		schemaClients,
		schemaDecisions,
		schemaRuleConfigs,
	}
}
