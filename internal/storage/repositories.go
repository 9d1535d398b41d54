package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// DB represents a database connection interface. Both *sql.DB and *sql.Tx
// satisfy it, so repositories work inside and outside transactions.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// isUniqueViolation reports whether err is a unique or primary key
// constraint violation from either supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Repositories bundles all repositories over a single connection or transaction.
type Repositories struct {
	Users        *UserRepository
	Libraries    *LibraryRepository
	Permissions  *PermissionRepository
	LibraryFiles *LibraryFileRepository
	Files        *KnowledgeFileRepository
	Sections     *SectionRepository
	Chunks       *ChunkRepository
}

// NewRepositories creates the repository bundle.
func NewRepositories(db DB) *Repositories {
	return &Repositories{
		Users:        NewUserRepository(db),
		Libraries:    NewLibraryRepository(db),
		Permissions:  NewPermissionRepository(db),
		LibraryFiles: NewLibraryFileRepository(db),
		Files:        NewKnowledgeFileRepository(db),
		Sections:     NewSectionRepository(db),
		Chunks:       NewChunkRepository(db),
	}
}

// UserRepository handles user CRUD operations.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()

	query := `
		INSERT INTO users (id, email, password_hash, first_name, last_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		user.IsActive, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	query := `
		SELECT id, email, password_hash, first_name, last_name, is_active, last_login_at, created_at, updated_at
		FROM users WHERE id = $1
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, password_hash, first_name, last_name, is_active, last_login_at, created_at, updated_at
		FROM users WHERE LOWER(email) = LOWER($1)
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.FirstName, &user.LastName,
		&user.IsActive, &user.LastLoginAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return user, err
}

// TouchLogin records a successful login.
func (r *UserRepository) TouchLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = $1, updated_at = $1 WHERE id = $2`, time.Now(), id)
	return err
}

// Roles returns the roles assigned to a user.
func (r *UserRepository) Roles(ctx context.Context, id uuid.UUID) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// AddRole assigns a role to a user. Idempotent.
func (r *UserRepository) AddRole(ctx context.Context, id uuid.UUID, role string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`, id, role)
	if isUniqueViolation(err) {
		return nil
	}
	return err
}

// LibraryRepository handles library CRUD operations.
type LibraryRepository struct {
	db DB
}

// NewLibraryRepository creates a new library repository.
func NewLibraryRepository(db DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

// Create creates a new library.
func (r *LibraryRepository) Create(ctx context.Context, library *Library) error {
	if library.ID == uuid.Nil {
		library.ID = uuid.New()
	}
	library.CreatedAt = time.Now()
	library.UpdatedAt = time.Now()

	query := `
		INSERT INTO libraries (id, name, description, owner_id, is_public, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		library.ID, library.Name, library.Description, library.OwnerID,
		library.IsPublic, library.CreatedAt, library.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByID retrieves a library by ID.
func (r *LibraryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Library, error) {
	query := `
		SELECT id, name, description, owner_id, is_public, created_at, updated_at
		FROM libraries WHERE id = $1
	`
	library := &Library{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&library.ID, &library.Name, &library.Description, &library.OwnerID,
		&library.IsPublic, &library.CreatedAt, &library.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return library, err
}

// Update updates a library's mutable fields. Ownership never changes.
func (r *LibraryRepository) Update(ctx context.Context, library *Library) error {
	library.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx,
		`UPDATE libraries SET name = $1, description = $2, is_public = $3, updated_at = $4 WHERE id = $5`,
		library.Name, library.Description, library.IsPublic, library.UpdatedAt, library.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return err
}

// Delete removes a library. Permissions and files cascade.
func (r *LibraryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM libraries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return err
}

// ListForUser lists libraries visible to a user: owned, explicitly granted, or public.
func (r *LibraryRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*Library, error) {
	query := `
		SELECT DISTINCT l.id, l.name, l.description, l.owner_id, l.is_public, l.created_at, l.updated_at
		FROM libraries l
		LEFT JOIN library_permissions p ON p.library_id = l.id AND p.user_id = $1
		WHERE l.owner_id = $1 OR p.id IS NOT NULL OR l.is_public
		ORDER BY l.name
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var libraries []*Library
	for rows.Next() {
		library := &Library{}
		if err := rows.Scan(
			&library.ID, &library.Name, &library.Description, &library.OwnerID,
			&library.IsPublic, &library.CreatedAt, &library.UpdatedAt,
		); err != nil {
			return nil, err
		}
		libraries = append(libraries, library)
	}
	return libraries, rows.Err()
}

// ListAll lists every library. Used to rebuild derived indexes at startup.
func (r *LibraryRepository) ListAll(ctx context.Context) ([]*Library, error) {
	query := `
		SELECT id, name, description, owner_id, is_public, created_at, updated_at
		FROM libraries ORDER BY name
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var libraries []*Library
	for rows.Next() {
		library := &Library{}
		if err := rows.Scan(
			&library.ID, &library.Name, &library.Description, &library.OwnerID,
			&library.IsPublic, &library.CreatedAt, &library.UpdatedAt,
		); err != nil {
			return nil, err
		}
		libraries = append(libraries, library)
	}
	return libraries, rows.Err()
}

// PermissionRepository handles library permission grants.
type PermissionRepository struct {
	db DB
}

// NewPermissionRepository creates a new permission repository.
func NewPermissionRepository(db DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// Upsert creates or replaces the grant for (library, user).
func (r *PermissionRepository) Upsert(ctx context.Context, perm *LibraryPermission) error {
	if perm.ID == uuid.Nil {
		perm.ID = uuid.New()
	}
	perm.CreatedAt = time.Now()

	result, err := r.db.ExecContext(ctx,
		`UPDATE library_permissions SET kind = $1, granted_by_user_id = $2 WHERE library_id = $3 AND user_id = $4`,
		perm.Kind, perm.GrantedByUserID, perm.LibraryID, perm.UserID,
	)
	if err != nil {
		return err
	}
	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		return nil
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO library_permissions (id, library_id, user_id, kind, granted_by_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		perm.ID, perm.LibraryID, perm.UserID, perm.Kind, perm.GrantedByUserID, perm.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// Get retrieves the grant for (library, user).
func (r *PermissionRepository) Get(ctx context.Context, libraryID, userID uuid.UUID) (*LibraryPermission, error) {
	query := `
		SELECT id, library_id, user_id, kind, granted_by_user_id, created_at
		FROM library_permissions WHERE library_id = $1 AND user_id = $2
	`
	perm := &LibraryPermission{}
	err := r.db.QueryRowContext(ctx, query, libraryID, userID).Scan(
		&perm.ID, &perm.LibraryID, &perm.UserID, &perm.Kind, &perm.GrantedByUserID, &perm.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return perm, err
}

// Delete revokes the grant for (library, user).
func (r *PermissionRepository) Delete(ctx context.Context, libraryID, userID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM library_permissions WHERE library_id = $1 AND user_id = $2`, libraryID, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return err
}

// ListByLibrary lists all grants on a library.
func (r *PermissionRepository) ListByLibrary(ctx context.Context, libraryID uuid.UUID) ([]*LibraryPermission, error) {
	query := `
		SELECT id, library_id, user_id, kind, granted_by_user_id, created_at
		FROM library_permissions WHERE library_id = $1 ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []*LibraryPermission
	for rows.Next() {
		perm := &LibraryPermission{}
		if err := rows.Scan(
			&perm.ID, &perm.LibraryID, &perm.UserID, &perm.Kind, &perm.GrantedByUserID, &perm.CreatedAt,
		); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// LibraryFileRepository handles library file catalog records.
type LibraryFileRepository struct {
	db DB
}

// NewLibraryFileRepository creates a new library file repository.
func NewLibraryFileRepository(db DB) *LibraryFileRepository {
	return &LibraryFileRepository{db: db}
}

// Create creates a new library file record.
func (r *LibraryFileRepository) Create(ctx context.Context, file *LibraryFile) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	file.CreatedAt = time.Now()
	file.UpdatedAt = time.Now()
	if file.UploadedAt.IsZero() {
		file.UploadedAt = file.CreatedAt
	}

	query := `
		INSERT INTO library_files (id, library_id, original_file_name, content_type, size_in_bytes,
			relative_path, hash, uploaded_by_user_id, uploaded_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		file.ID, file.LibraryID, file.OriginalFileName, file.ContentType, file.SizeInBytes,
		file.RelativePath, file.Hash, file.UploadedByUserID, file.UploadedAt,
		file.CreatedAt, file.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByID retrieves a file by ID with library scoping.
func (r *LibraryFileRepository) GetByID(ctx context.Context, libraryID, fileID uuid.UUID) (*LibraryFile, error) {
	query := `
		SELECT id, library_id, original_file_name, content_type, size_in_bytes,
			relative_path, hash, uploaded_by_user_id, uploaded_at, created_at, updated_at
		FROM library_files WHERE id = $1 AND library_id = $2
	`
	return r.scanFile(r.db.QueryRowContext(ctx, query, fileID, libraryID))
}

func (r *LibraryFileRepository) scanFile(row *sql.Row) (*LibraryFile, error) {
	file := &LibraryFile{}
	err := row.Scan(
		&file.ID, &file.LibraryID, &file.OriginalFileName, &file.ContentType, &file.SizeInBytes,
		&file.RelativePath, &file.Hash, &file.UploadedByUserID, &file.UploadedAt,
		&file.CreatedAt, &file.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return file, err
}

// ListByLibrary lists all files in a library.
func (r *LibraryFileRepository) ListByLibrary(ctx context.Context, libraryID uuid.UUID) ([]*LibraryFile, error) {
	query := `
		SELECT id, library_id, original_file_name, content_type, size_in_bytes,
			relative_path, hash, uploaded_by_user_id, uploaded_at, created_at, updated_at
		FROM library_files WHERE library_id = $1 ORDER BY original_file_name
	`
	rows, err := r.db.QueryContext(ctx, query, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*LibraryFile
	for rows.Next() {
		file := &LibraryFile{}
		if err := rows.Scan(
			&file.ID, &file.LibraryID, &file.OriginalFileName, &file.ContentType, &file.SizeInBytes,
			&file.RelativePath, &file.Hash, &file.UploadedByUserID, &file.UploadedAt,
			&file.CreatedAt, &file.UpdatedAt,
		); err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// Delete removes a file record.
func (r *LibraryFileRepository) Delete(ctx context.Context, libraryID, fileID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM library_files WHERE id = $1 AND library_id = $2`, fileID, libraryID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return err
}

// KnowledgeFileRepository handles knowledge file indexing records.
type KnowledgeFileRepository struct {
	db DB
}

// NewKnowledgeFileRepository creates a new knowledge file repository.
func NewKnowledgeFileRepository(db DB) *KnowledgeFileRepository {
	return &KnowledgeFileRepository{db: db}
}

// Add inserts a knowledge file record.
func (r *KnowledgeFileRepository) Add(ctx context.Context, file *KnowledgeFile) error {
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO knowledge_files (id, name, hash, processed_at, status) VALUES ($1, $2, $3, $4, $5)`,
		file.ID, file.Name, file.Hash, file.ProcessedAt, file.Status,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByID retrieves a knowledge file by ID.
func (r *KnowledgeFileRepository) GetByID(ctx context.Context, id uuid.UUID) (*KnowledgeFile, error) {
	file := &KnowledgeFile{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, hash, processed_at, status FROM knowledge_files WHERE id = $1`, id,
	).Scan(&file.ID, &file.Name, &file.Hash, &file.ProcessedAt, &file.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return file, err
}

// Exists reports whether a knowledge file record exists.
func (r *KnowledgeFileRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM knowledge_files WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Update updates a knowledge file record.
func (r *KnowledgeFileRepository) Update(ctx context.Context, file *KnowledgeFile) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE knowledge_files SET name = $1, hash = $2, processed_at = $3, status = $4 WHERE id = $5`,
		file.Name, file.Hash, file.ProcessedAt, file.Status, file.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return err
}

// Delete removes a knowledge file. Sections and chunks cascade.
func (r *KnowledgeFileRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM knowledge_files WHERE id = $1`, id)
	return err
}

// SectionRepository handles knowledge file sections.
type SectionRepository struct {
	db DB
}

// NewSectionRepository creates a new section repository.
func NewSectionRepository(db DB) *SectionRepository {
	return &SectionRepository{db: db}
}

// Add inserts a section.
func (r *SectionRepository) Add(ctx context.Context, section *KnowledgeFileSection) error {
	if section.ID == uuid.Nil {
		section.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO knowledge_sections (id, file_id, section_index, summary, additional_context)
		 VALUES ($1, $2, $3, $4, $5)`,
		section.ID, section.FileID, section.SectionIndex, section.Summary, section.AdditionalContext,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByID retrieves a section by ID.
func (r *SectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*KnowledgeFileSection, error) {
	section := &KnowledgeFileSection{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, file_id, section_index, summary, additional_context
		 FROM knowledge_sections WHERE id = $1`, id,
	).Scan(&section.ID, &section.FileID, &section.SectionIndex, &section.Summary, &section.AdditionalContext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return section, err
}

// GetByIndex retrieves a section by (file, index).
func (r *SectionRepository) GetByIndex(ctx context.Context, fileID uuid.UUID, index int) (*KnowledgeFileSection, error) {
	section := &KnowledgeFileSection{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, file_id, section_index, summary, additional_context
		 FROM knowledge_sections WHERE file_id = $1 AND section_index = $2`, fileID, index,
	).Scan(&section.ID, &section.FileID, &section.SectionIndex, &section.Summary, &section.AdditionalContext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return section, err
}

// ListByFile lists all sections of a file ordered by index.
func (r *SectionRepository) ListByFile(ctx context.Context, fileID uuid.UUID) ([]*KnowledgeFileSection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, file_id, section_index, summary, additional_context
		 FROM knowledge_sections WHERE file_id = $1 ORDER BY section_index`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sections []*KnowledgeFileSection
	for rows.Next() {
		section := &KnowledgeFileSection{}
		if err := rows.Scan(
			&section.ID, &section.FileID, &section.SectionIndex, &section.Summary, &section.AdditionalContext,
		); err != nil {
			return nil, err
		}
		sections = append(sections, section)
	}
	return sections, rows.Err()
}

// DeleteByFile removes all sections of a file.
func (r *SectionRepository) DeleteByFile(ctx context.Context, fileID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM knowledge_sections WHERE file_id = $1`, fileID)
	return err
}

// Update updates a section's summary and context.
func (r *SectionRepository) Update(ctx context.Context, section *KnowledgeFileSection) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE knowledge_sections SET summary = $1, additional_context = $2 WHERE id = $3`,
		section.Summary, section.AdditionalContext, section.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return err
}

// ChunkRepository handles knowledge file chunks.
type ChunkRepository struct {
	db DB
}

// NewChunkRepository creates a new chunk repository.
func NewChunkRepository(db DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// Add inserts a chunk.
func (r *ChunkRepository) Add(ctx context.Context, chunk *KnowledgeFileChunk) error {
	if chunk.ID == uuid.Nil {
		chunk.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO knowledge_chunks (id, section_id, file_id, chunk_index, content, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		chunk.ID, chunk.SectionID, chunk.FileID, chunk.ChunkIndex, chunk.Content,
		EncodeEmbedding(chunk.Embedding),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByID retrieves a chunk by ID.
func (r *ChunkRepository) GetByID(ctx context.Context, id uuid.UUID) (*KnowledgeFileChunk, error) {
	return r.scanChunk(r.db.QueryRowContext(ctx,
		`SELECT id, section_id, file_id, chunk_index, content, embedding
		 FROM knowledge_chunks WHERE id = $1`, id))
}

// GetByIndex retrieves a chunk by (section, index).
func (r *ChunkRepository) GetByIndex(ctx context.Context, sectionID uuid.UUID, index int) (*KnowledgeFileChunk, error) {
	return r.scanChunk(r.db.QueryRowContext(ctx,
		`SELECT id, section_id, file_id, chunk_index, content, embedding
		 FROM knowledge_chunks WHERE section_id = $1 AND chunk_index = $2`, sectionID, index))
}

func (r *ChunkRepository) scanChunk(row *sql.Row) (*KnowledgeFileChunk, error) {
	chunk := &KnowledgeFileChunk{}
	var blob []byte
	err := row.Scan(&chunk.ID, &chunk.SectionID, &chunk.FileID, &chunk.ChunkIndex, &chunk.Content, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	chunk.Embedding, err = DecodeEmbedding(blob)
	return chunk, err
}

// GetAllBySection lists all chunks of a section ordered by index.
func (r *ChunkRepository) GetAllBySection(ctx context.Context, sectionID uuid.UUID) ([]*KnowledgeFileChunk, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, section_id, file_id, chunk_index, content, embedding
		 FROM knowledge_chunks WHERE section_id = $1 ORDER BY chunk_index`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectChunks(rows)
}

// ListEmbeddedByLibrary returns all embedded chunks belonging to a
// library's files. Used to rehydrate the vector index after restart.
func (r *ChunkRepository) ListEmbeddedByLibrary(ctx context.Context, libraryID uuid.UUID) ([]*KnowledgeFileChunk, error) {
	query := `
		SELECT c.id, c.section_id, c.file_id, c.chunk_index, c.content, c.embedding
		FROM knowledge_chunks c
		JOIN library_files f ON f.id = c.file_id
		WHERE f.library_id = $1 AND c.embedding IS NOT NULL
	`
	rows, err := r.db.QueryContext(ctx, query, libraryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectChunks(rows)
}

func (r *ChunkRepository) collectChunks(rows *sql.Rows) ([]*KnowledgeFileChunk, error) {
	var chunks []*KnowledgeFileChunk
	for rows.Next() {
		chunk := &KnowledgeFileChunk{}
		var blob []byte
		if err := rows.Scan(
			&chunk.ID, &chunk.SectionID, &chunk.FileID, &chunk.ChunkIndex, &chunk.Content, &blob,
		); err != nil {
			return nil, err
		}
		var err error
		if chunk.Embedding, err = DecodeEmbedding(blob); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// Exists reports whether a chunk record exists.
func (r *ChunkRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM knowledge_chunks WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Update updates a chunk's content and embedding.
func (r *ChunkRepository) Update(ctx context.Context, chunk *KnowledgeFileChunk) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE knowledge_chunks SET content = $1, embedding = $2 WHERE id = $3`,
		chunk.Content, EncodeEmbedding(chunk.Embedding), chunk.ID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return ErrNotFound
	}
	return err
}

// DeleteByFile removes all chunks of a file using the denormalised file_id.
func (r *ChunkRepository) DeleteByFile(ctx context.Context, fileID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE file_id = $1`, fileID)
	return err
}
