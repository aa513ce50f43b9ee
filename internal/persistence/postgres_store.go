package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signetlabs/signet/pkg/api"
)

// PostgresStore implements every store interface on top of PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib" or "github.com/lib/pq").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore implements the store interfaces.
var (
	_ WorkflowStore = (*PostgresStore)(nil)
	_ DocumentStore = (*PostgresStore)(nil)
	_ TokenStore    = (*PostgresStore)(nil)
	_ AuditStore    = (*PostgresStore)(nil)
)

// NewPostgresStore initializes the required schema in the given database and
// returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Stores returns a Persistence with every store backed by s.
func (s *PostgresStore) Stores() Persistence {
	return Persistence{Workflows: s, Documents: s, Tokens: s, Audit: s}
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			template_id TEXT,
			status TEXT NOT NULL,
			mode TEXT NOT NULL,
			sequential BOOLEAN NOT NULL,
			valid_until BIGINT NOT NULL,
			auto_reminder BOOLEAN NOT NULL,
			reminder_interval_days INTEGER NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS envelopes (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			sent_at BIGINT NOT NULL,
			completed_at BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS recipients (
			id TEXT PRIMARY KEY,
			envelope_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			use_owner_identity BOOLEAN NOT NULL,
			role_id TEXT,
			role_priority INTEGER NOT NULL,
			delivery TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS signatures (
			id TEXT NOT NULL,
			recipient_id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			signed BOOLEAN NOT NULL,
			signed_at BIGINT NOT NULL,
			proof_blob_id TEXT
		);
		CREATE TABLE IF NOT EXISTS signed_documents (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL UNIQUE
		);
		CREATE TABLE IF NOT EXISTS document_versions (
			document_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			blob_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (document_id, version)
		);
		CREATE TABLE IF NOT EXISTS signing_tokens (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			value TEXT NOT NULL UNIQUE,
			expires_at BIGINT NOT NULL,
			used BOOLEAN NOT NULL,
			created_at BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			envelope_id TEXT,
			action TEXT NOT NULL,
			detail TEXT,
			at BIGINT NOT NULL
		);`,
	)
	return err
}

func (s *PostgresStore) CreateWorkflow(ctx context.Context, g WorkflowGraph) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	wf := g.Workflow
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, creator_id, template_id, status, mode, sequential,
			valid_until, auto_reminder, reminder_interval_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		wf.ID, wf.Name, wf.CreatorID, wf.TemplateID, string(wf.Status), string(wf.Mode),
		wf.Sequential, ts(wf.ValidUntil), wf.AutoReminder,
		wf.ReminderIntervalDays, ts(wf.CreatedAt), ts(wf.UpdatedAt),
	); err != nil {
		return err
	}

	for _, env := range g.Envelopes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO envelopes (id, workflow_id, seq, status, sent_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			env.ID, env.WorkflowID, env.Seq, string(env.Status), ts(env.SentAt), ts(env.CompletedAt),
		); err != nil {
			return err
		}
	}
	for _, rcp := range g.Recipients {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recipients (id, envelope_id, workflow_id, name, email,
				use_owner_identity, role_id, role_priority, delivery)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			rcp.ID, rcp.EnvelopeID, rcp.WorkflowID, rcp.Name, rcp.Email,
			rcp.UseOwnerIdentity, rcp.RoleID, rcp.RolePriority, string(rcp.Delivery),
		); err != nil {
			return err
		}
	}
	for _, sig := range g.Signatures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signatures (id, recipient_id, document_id, signed, signed_at, proof_blob_id)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			sig.ID, sig.RecipientID, sig.DocumentID, sig.Signed, ts(sig.SignedAt), sig.ProofBlobID,
		); err != nil {
			return err
		}
	}
	if g.Document != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signed_documents (id, workflow_id) VALUES ($1, $2)`,
			g.Document.ID, g.Document.WorkflowID,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func scanWorkflowPG(row interface{ Scan(...any) error }) (*api.Workflow, error) {
	var wf api.Workflow
	var status, mode string
	var validUntil, createdAt, updatedAt int64
	var templateID sql.NullString

	if err := row.Scan(&wf.ID, &wf.Name, &wf.CreatorID, &templateID, &status, &mode,
		&wf.Sequential, &validUntil, &wf.AutoReminder, &wf.ReminderIntervalDays,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	wf.TemplateID = templateID.String
	wf.Status = api.WorkflowStatus(status)
	wf.Mode = api.RecipientMode(mode)
	wf.ValidUntil = fromTS(validUntil)
	wf.CreatedAt = fromTS(createdAt)
	wf.UpdatedAt = fromTS(updatedAt)
	return &wf, nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	wf, err := scanWorkflowPG(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkflowNotFound
	}
	return wf, err
}

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, wf *api.Workflow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET name = $1, template_id = $2, status = $3, mode = $4, sequential = $5,
			valid_until = $6, auto_reminder = $7, reminder_interval_days = $8, updated_at = $9
		WHERE id = $10`,
		wf.Name, wf.TemplateID, string(wf.Status), string(wf.Mode), wf.Sequential,
		ts(wf.ValidUntil), wf.AutoReminder, wf.ReminderIntervalDays, ts(wf.UpdatedAt),
		wf.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}
	return nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*api.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	var args []any
	var clauses []string

	if filter.CreatorID != "" {
		args = append(args, filter.CreatorID)
		clauses = append(clauses, fmt.Sprintf("creator_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.Workflow
	for rows.Next() {
		wf, err := scanWorkflowPG(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, wf)
	}
	return result, rows.Err()
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrWorkflowNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM signatures WHERE recipient_id IN
			(SELECT id FROM recipients WHERE workflow_id = $1)`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipients WHERE workflow_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM envelopes WHERE workflow_id = $1`, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) EnvelopesByWorkflow(ctx context.Context, workflowID string) ([]*api.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, seq, status, sent_at, completed_at
		FROM envelopes WHERE workflow_id = $1 ORDER BY seq`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, env)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetEnvelope(ctx context.Context, id string) (*api.Envelope, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, seq, status, sent_at, completed_at
		FROM envelopes WHERE id = $1`, id)
	env, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEnvelopeNotFound
	}
	return env, err
}

func (s *PostgresStore) UpdateEnvelope(ctx context.Context, env *api.Envelope) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE envelopes SET status = $1, sent_at = $2, completed_at = $3 WHERE id = $4`,
		string(env.Status), ts(env.SentAt), ts(env.CompletedAt), env.ID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrEnvelopeNotFound
	}
	return nil
}

func scanRecipientPG(row interface{ Scan(...any) error }) (*api.Recipient, error) {
	var rcp api.Recipient
	var roleID sql.NullString
	var delivery string

	if err := row.Scan(&rcp.ID, &rcp.EnvelopeID, &rcp.WorkflowID, &rcp.Name, &rcp.Email,
		&rcp.UseOwnerIdentity, &roleID, &rcp.RolePriority, &delivery); err != nil {
		return nil, err
	}
	rcp.RoleID = roleID.String
	rcp.Delivery = api.DeliveryType(delivery)
	return &rcp, nil
}

func (s *PostgresStore) GetRecipient(ctx context.Context, id string) (*api.Recipient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = $1`, id)
	rcp, err := scanRecipientPG(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecipientNotFound
	}
	return rcp, err
}

func (s *PostgresStore) RecipientByEnvelope(ctx context.Context, envelopeID string) (*api.Recipient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE envelope_id = $1`, envelopeID)
	rcp, err := scanRecipientPG(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecipientNotFound
	}
	return rcp, err
}

func (s *PostgresStore) SignatureByRecipient(ctx context.Context, recipientID string) (*api.Signature, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipient_id, document_id, signed, signed_at, proof_blob_id
		FROM signatures WHERE recipient_id = $1`, recipientID)

	var sig api.Signature
	var signedAt int64
	var proof sql.NullString

	if err := row.Scan(&sig.ID, &sig.RecipientID, &sig.DocumentID, &sig.Signed, &signedAt, &proof); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSignatureNotFound
		}
		return nil, err
	}
	sig.SignedAt = fromTS(signedAt)
	sig.ProofBlobID = proof.String
	return &sig, nil
}

func (s *PostgresStore) UpdateSignature(ctx context.Context, sig *api.Signature) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signatures SET signed = $1, signed_at = $2, proof_blob_id = $3
		WHERE recipient_id = $4`,
		sig.Signed, ts(sig.SignedAt), sig.ProofBlobID, sig.RecipientID,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSignatureNotFound
	}
	return nil
}

func (s *PostgresStore) DocumentByWorkflow(ctx context.Context, workflowID string) (*api.SignedDocument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, workflow_id FROM signed_documents WHERE workflow_id = $1`, workflowID)

	var doc api.SignedDocument
	if err := row.Scan(&doc.ID, &doc.WorkflowID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (s *PostgresStore) AppendVersion(ctx context.Context, v *api.SignedDocumentVersion) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Lock the document row so concurrent appends serialize and version
	// numbers stay contiguous.
	var docID string
	if err := tx.QueryRowContext(ctx, `
		SELECT id FROM signed_documents WHERE id = $1 FOR UPDATE`,
		v.DocumentID,
	).Scan(&docID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrDocumentNotFound
		}
		return 0, err
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM document_versions WHERE document_id = $1`,
		v.DocumentID,
	).Scan(&maxVersion); err != nil {
		return 0, err
	}

	v.Version = maxVersion + 1
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (document_id, version, blob_id, recipient_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		v.DocumentID, v.Version, v.BlobID, v.RecipientID, ts(v.CreatedAt),
	); err != nil {
		return 0, err
	}

	return v.Version, tx.Commit()
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]*api.SignedDocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, version, blob_id, recipient_id, created_at
		FROM document_versions WHERE document_id = $1 ORDER BY version`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.SignedDocumentVersion
	for rows.Next() {
		var v api.SignedDocumentVersion
		var createdAt int64
		if err := rows.Scan(&v.DocumentID, &v.Version, &v.BlobID, &v.RecipientID, &createdAt); err != nil {
			return nil, err
		}
		v.CreatedAt = fromTS(createdAt)
		result = append(result, &v)
	}
	return result, rows.Err()
}

func (s *PostgresStore) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM document_versions WHERE document_id IN
			(SELECT id FROM signed_documents WHERE workflow_id = $1)`, workflowID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM signed_documents WHERE workflow_id = $1`, workflowID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_log WHERE workflow_id = $1`, workflowID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *PostgresStore) SaveToken(ctx context.Context, t *api.SigningToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_tokens (id, recipient_id, value, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.RecipientID, t.Value, ts(t.ExpiresAt), t.Used, ts(t.CreatedAt),
	)
	return err
}

func scanTokenPG(row interface{ Scan(...any) error }) (*api.SigningToken, error) {
	var t api.SigningToken
	var expiresAt, createdAt int64

	if err := row.Scan(&t.ID, &t.RecipientID, &t.Value, &expiresAt, &t.Used, &createdAt); err != nil {
		return nil, err
	}
	t.ExpiresAt = fromTS(expiresAt)
	t.CreatedAt = fromTS(createdAt)
	return &t, nil
}

func (s *PostgresStore) ActiveToken(ctx context.Context, recipientID string, now time.Time) (*api.SigningToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipient_id, value, expires_at, used, created_at
		FROM signing_tokens
		WHERE recipient_id = $1 AND used = FALSE AND expires_at > $2
		ORDER BY expires_at DESC LIMIT 1`,
		recipientID, now.UnixNano(),
	)
	t, err := scanTokenPG(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	return t, err
}

func (s *PostgresStore) TokenByValue(ctx context.Context, value string) (*api.SigningToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipient_id, value, expires_at, used, created_at
		FROM signing_tokens WHERE value = $1`, value)
	t, err := scanTokenPG(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	return t, err
}

func (s *PostgresStore) RetireActiveTokens(ctx context.Context, recipientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE signing_tokens SET used = TRUE WHERE recipient_id = $1 AND used = FALSE`, recipientID)
	return err
}

// ConsumeToken is a single conditional update: the WHERE used = FALSE clause
// is what closes the race between two concurrent signing submissions.
func (s *PostgresStore) ConsumeToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signing_tokens SET used = TRUE WHERE id = $1 AND used = FALSE`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM signing_tokens WHERE id = $1`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrTokenNotFound
	}
	return ErrTokenSpent
}

func (s *PostgresStore) DeleteByRecipients(ctx context.Context, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	placeholders := make([]string, len(recipientIDs))
	args := make([]any, len(recipientIDs))
	for i, id := range recipientIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM signing_tokens WHERE recipient_id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	return err
}

func (s *PostgresStore) AppendAudit(ctx context.Context, e *api.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, workflow_id, envelope_id, action, detail, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.WorkflowID, e.EnvelopeID, e.Action, e.Detail, ts(e.At),
	)
	return err
}

func (s *PostgresStore) AuditByWorkflow(ctx context.Context, workflowID string) ([]*api.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, envelope_id, action, detail, at
		FROM audit_log WHERE workflow_id = $1 ORDER BY at, id`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*api.AuditEntry
	for rows.Next() {
		var e api.AuditEntry
		var envelopeID, detail sql.NullString
		var at int64
		if err := rows.Scan(&e.ID, &e.WorkflowID, &envelopeID, &e.Action, &detail, &at); err != nil {
			return nil, err
		}
		e.EnvelopeID = envelopeID.String
		e.Detail = detail.String
		e.At = fromTS(at)
		result = append(result, &e)
	}
	return result, rows.Err()
}
