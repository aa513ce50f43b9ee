package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/signetlabs/signet/pkg/api"
)

// SQLiteStore implements every store interface on top of SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the store interfaces.
var (
	_ WorkflowStore = (*SQLiteStore)(nil)
	_ DocumentStore = (*SQLiteStore)(nil)
	_ TokenStore    = (*SQLiteStore)(nil)
	_ AuditStore    = (*SQLiteStore)(nil)
)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Stores returns a Persistence with every store backed by s.
func (s *SQLiteStore) Stores() Persistence {
	return Persistence{Workflows: s, Documents: s, Tokens: s, Audit: s}
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			template_id TEXT,
			status TEXT NOT NULL,
			mode TEXT NOT NULL,
			sequential INTEGER NOT NULL,
			valid_until INTEGER NOT NULL,
			auto_reminder INTEGER NOT NULL,
			reminder_interval_days INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS envelopes (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			sent_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS recipients (
			id TEXT PRIMARY KEY,
			envelope_id TEXT NOT NULL,
			workflow_id TEXT NOT NULL,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			use_owner_identity INTEGER NOT NULL,
			role_id TEXT,
			role_priority INTEGER NOT NULL,
			delivery TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS signatures (
			id TEXT NOT NULL,
			recipient_id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			signed INTEGER NOT NULL,
			signed_at INTEGER NOT NULL,
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
			created_at INTEGER NOT NULL,
			PRIMARY KEY (document_id, version)
		);
		CREATE TABLE IF NOT EXISTS signing_tokens (
			id TEXT PRIMARY KEY,
			recipient_id TEXT NOT NULL,
			value TEXT NOT NULL UNIQUE,
			expires_at INTEGER NOT NULL,
			used INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			envelope_id TEXT,
			action TEXT NOT NULL,
			detail TEXT,
			at INTEGER NOT NULL
		);`,
	)
	return err
}

// ts converts a time to the stored representation (unix nanoseconds, with
// zero time stored as 0).
func ts(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromTS(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) CreateWorkflow(ctx context.Context, g WorkflowGraph) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	wf := g.Workflow
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, creator_id, template_id, status, mode, sequential,
			valid_until, auto_reminder, reminder_interval_days, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, wf.CreatorID, wf.TemplateID, string(wf.Status), string(wf.Mode),
		b2i(wf.Sequential), ts(wf.ValidUntil), b2i(wf.AutoReminder),
		wf.ReminderIntervalDays, ts(wf.CreatedAt), ts(wf.UpdatedAt),
	); err != nil {
		return err
	}

	for _, env := range g.Envelopes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO envelopes (id, workflow_id, seq, status, sent_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			env.ID, env.WorkflowID, env.Seq, string(env.Status), ts(env.SentAt), ts(env.CompletedAt),
		); err != nil {
			return err
		}
	}
	for _, rcp := range g.Recipients {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recipients (id, envelope_id, workflow_id, name, email,
				use_owner_identity, role_id, role_priority, delivery)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rcp.ID, rcp.EnvelopeID, rcp.WorkflowID, rcp.Name, rcp.Email,
			b2i(rcp.UseOwnerIdentity), rcp.RoleID, rcp.RolePriority, string(rcp.Delivery),
		); err != nil {
			return err
		}
	}
	for _, sig := range g.Signatures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signatures (id, recipient_id, document_id, signed, signed_at, proof_blob_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sig.ID, sig.RecipientID, sig.DocumentID, b2i(sig.Signed), ts(sig.SignedAt), sig.ProofBlobID,
		); err != nil {
			return err
		}
	}
	if g.Document != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO signed_documents (id, workflow_id) VALUES (?, ?)`,
			g.Document.ID, g.Document.WorkflowID,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const workflowColumns = `id, name, creator_id, template_id, status, mode, sequential,
	valid_until, auto_reminder, reminder_interval_days, created_at, updated_at`

func scanWorkflow(row interface{ Scan(...any) error }) (*api.Workflow, error) {
	var wf api.Workflow
	var status, mode string
	var sequential, autoReminder int
	var validUntil, createdAt, updatedAt int64
	var templateID sql.NullString

	if err := row.Scan(&wf.ID, &wf.Name, &wf.CreatorID, &templateID, &status, &mode,
		&sequential, &validUntil, &autoReminder, &wf.ReminderIntervalDays,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	wf.TemplateID = templateID.String
	wf.Status = api.WorkflowStatus(status)
	wf.Mode = api.RecipientMode(mode)
	wf.Sequential = sequential != 0
	wf.AutoReminder = autoReminder != 0
	wf.ValidUntil = fromTS(validUntil)
	wf.CreatedAt = fromTS(createdAt)
	wf.UpdatedAt = fromTS(updatedAt)
	return &wf, nil
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*api.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWorkflowNotFound
	}
	return wf, err
}

func (s *SQLiteStore) UpdateWorkflow(ctx context.Context, wf *api.Workflow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows
		SET name = ?, template_id = ?, status = ?, mode = ?, sequential = ?,
			valid_until = ?, auto_reminder = ?, reminder_interval_days = ?, updated_at = ?
		WHERE id = ?`,
		wf.Name, wf.TemplateID, string(wf.Status), string(wf.Mode), b2i(wf.Sequential),
		ts(wf.ValidUntil), b2i(wf.AutoReminder), wf.ReminderIntervalDays, ts(wf.UpdatedAt),
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

func (s *SQLiteStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*api.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	var args []any
	var clauses []string

	if filter.CreatorID != "" {
		clauses = append(clauses, "creator_id = ?")
		args = append(args, filter.CreatorID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
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
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, wf)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
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
			(SELECT id FROM recipients WHERE workflow_id = ?)`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recipients WHERE workflow_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM envelopes WHERE workflow_id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) EnvelopesByWorkflow(ctx context.Context, workflowID string) ([]*api.Envelope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, seq, status, sent_at, completed_at
		FROM envelopes WHERE workflow_id = ? ORDER BY seq`, workflowID)
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

func scanEnvelope(row interface{ Scan(...any) error }) (*api.Envelope, error) {
	var env api.Envelope
	var status string
	var sentAt, completedAt int64

	if err := row.Scan(&env.ID, &env.WorkflowID, &env.Seq, &status, &sentAt, &completedAt); err != nil {
		return nil, err
	}
	env.Status = api.EnvelopeStatus(status)
	env.SentAt = fromTS(sentAt)
	env.CompletedAt = fromTS(completedAt)
	return &env, nil
}

func (s *SQLiteStore) GetEnvelope(ctx context.Context, id string) (*api.Envelope, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, seq, status, sent_at, completed_at
		FROM envelopes WHERE id = ?`, id)
	env, err := scanEnvelope(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEnvelopeNotFound
	}
	return env, err
}

func (s *SQLiteStore) UpdateEnvelope(ctx context.Context, env *api.Envelope) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE envelopes SET status = ?, sent_at = ?, completed_at = ? WHERE id = ?`,
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

const recipientColumns = `id, envelope_id, workflow_id, name, email, use_owner_identity,
	role_id, role_priority, delivery`

func scanRecipient(row interface{ Scan(...any) error }) (*api.Recipient, error) {
	var rcp api.Recipient
	var useOwner int
	var roleID sql.NullString
	var delivery string

	if err := row.Scan(&rcp.ID, &rcp.EnvelopeID, &rcp.WorkflowID, &rcp.Name, &rcp.Email,
		&useOwner, &roleID, &rcp.RolePriority, &delivery); err != nil {
		return nil, err
	}
	rcp.UseOwnerIdentity = useOwner != 0
	rcp.RoleID = roleID.String
	rcp.Delivery = api.DeliveryType(delivery)
	return &rcp, nil
}

func (s *SQLiteStore) GetRecipient(ctx context.Context, id string) (*api.Recipient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id)
	rcp, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecipientNotFound
	}
	return rcp, err
}

func (s *SQLiteStore) RecipientByEnvelope(ctx context.Context, envelopeID string) (*api.Recipient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE envelope_id = ?`, envelopeID)
	rcp, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecipientNotFound
	}
	return rcp, err
}

func (s *SQLiteStore) SignatureByRecipient(ctx context.Context, recipientID string) (*api.Signature, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipient_id, document_id, signed, signed_at, proof_blob_id
		FROM signatures WHERE recipient_id = ?`, recipientID)

	var sig api.Signature
	var signed int
	var signedAt int64
	var proof sql.NullString

	if err := row.Scan(&sig.ID, &sig.RecipientID, &sig.DocumentID, &signed, &signedAt, &proof); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSignatureNotFound
		}
		return nil, err
	}
	sig.Signed = signed != 0
	sig.SignedAt = fromTS(signedAt)
	sig.ProofBlobID = proof.String
	return &sig, nil
}

func (s *SQLiteStore) UpdateSignature(ctx context.Context, sig *api.Signature) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signatures SET signed = ?, signed_at = ?, proof_blob_id = ?
		WHERE recipient_id = ?`,
		b2i(sig.Signed), ts(sig.SignedAt), sig.ProofBlobID, sig.RecipientID,
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

func (s *SQLiteStore) DocumentByWorkflow(ctx context.Context, workflowID string) (*api.SignedDocument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, workflow_id FROM signed_documents WHERE workflow_id = ?`, workflowID)

	var doc api.SignedDocument
	if err := row.Scan(&doc.ID, &doc.WorkflowID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (s *SQLiteStore) AppendVersion(ctx context.Context, v *api.SignedDocumentVersion) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM document_versions WHERE document_id = ?`,
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
		VALUES (?, ?, ?, ?, ?)`,
		v.DocumentID, v.Version, v.BlobID, v.RecipientID, ts(v.CreatedAt),
	); err != nil {
		return 0, err
	}

	return v.Version, tx.Commit()
}

func (s *SQLiteStore) ListVersions(ctx context.Context, documentID string) ([]*api.SignedDocumentVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, version, blob_id, recipient_id, created_at
		FROM document_versions WHERE document_id = ? ORDER BY version`, documentID)
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

func (s *SQLiteStore) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM document_versions WHERE document_id IN
			(SELECT id FROM signed_documents WHERE workflow_id = ?)`, workflowID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM signed_documents WHERE workflow_id = ?`, workflowID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_log WHERE workflow_id = ?`, workflowID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) SaveToken(ctx context.Context, t *api.SigningToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_tokens (id, recipient_id, value, expires_at, used, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.RecipientID, t.Value, ts(t.ExpiresAt), b2i(t.Used), ts(t.CreatedAt),
	)
	return err
}

func scanToken(row interface{ Scan(...any) error }) (*api.SigningToken, error) {
	var t api.SigningToken
	var expiresAt, createdAt int64
	var used int

	if err := row.Scan(&t.ID, &t.RecipientID, &t.Value, &expiresAt, &used, &createdAt); err != nil {
		return nil, err
	}
	t.ExpiresAt = fromTS(expiresAt)
	t.CreatedAt = fromTS(createdAt)
	t.Used = used != 0
	return &t, nil
}

func (s *SQLiteStore) ActiveToken(ctx context.Context, recipientID string, now time.Time) (*api.SigningToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipient_id, value, expires_at, used, created_at
		FROM signing_tokens
		WHERE recipient_id = ? AND used = 0 AND expires_at > ?
		ORDER BY expires_at DESC LIMIT 1`,
		recipientID, now.UnixNano(),
	)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	return t, err
}

func (s *SQLiteStore) TokenByValue(ctx context.Context, value string) (*api.SigningToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipient_id, value, expires_at, used, created_at
		FROM signing_tokens WHERE value = ?`, value)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	return t, err
}

func (s *SQLiteStore) RetireActiveTokens(ctx context.Context, recipientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE signing_tokens SET used = 1 WHERE recipient_id = ? AND used = 0`, recipientID)
	return err
}

// ConsumeToken is a single conditional update: the WHERE used = 0 clause is
// what closes the race between two concurrent signing submissions.
func (s *SQLiteStore) ConsumeToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE signing_tokens SET used = 1 WHERE id = ? AND used = 0`, id)
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
		SELECT COUNT(*) FROM signing_tokens WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrTokenNotFound
	}
	return ErrTokenSpent
}

func (s *SQLiteStore) DeleteByRecipients(ctx context.Context, recipientIDs []string) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(recipientIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(recipientIDs))
	for i, id := range recipientIDs {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM signing_tokens WHERE recipient_id IN (`+placeholders+`)`, args...)
	return err
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, e *api.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, workflow_id, envelope_id, action, detail, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkflowID, e.EnvelopeID, e.Action, e.Detail, ts(e.At),
	)
	return err
}

func (s *SQLiteStore) AuditByWorkflow(ctx context.Context, workflowID string) ([]*api.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, envelope_id, action, detail, at
		FROM audit_log WHERE workflow_id = ? ORDER BY at, id`, workflowID)
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
