package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
	"github.com/noah-isme/mailtrack-api/pkg/logger"
	"github.com/noah-isme/mailtrack-api/pkg/storage"
)

type attachmentStorage interface {
	Save(key string, data []byte) error
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
}

type urlSigner interface {
	Generate(mailID, key string) (string, time.Time, error)
	Parse(token string) (mailID, key string, err error)
}

type attachmentMailStore interface {
	FindByID(ctx context.Context, id string) (*models.MailRecord, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.MailRecord, error)
	Update(ctx context.Context, exec sqlx.ExtContext, mail *models.MailRecord) error
}

type activeAssignmentReader interface {
	ListActiveByMail(ctx context.Context, exec sqlx.ExtContext, mailID string) ([]models.Assignment, error)
}

// AttachmentConfig tunes upload limits and the download link.
type AttachmentConfig struct {
	MaxFileSizeBytes int64
	DownloadPath     string
}

// AttachmentInfo describes a stored attachment and a short-lived link to it.
type AttachmentInfo struct {
	MailID      string    `json:"mail_id"`
	FileName    string    `json:"file_name"`
	Size        int64     `json:"size"`
	Pages       int       `json:"pages"`
	UploadedBy  string    `json:"uploaded_by,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AttachmentDownload is an opened attachment ready to stream.
type AttachmentDownload struct {
	FileName string
	Size     int64
	Body     io.ReadCloser
}

// AttachmentService validates, stores and serves the PDF attached to a mail.
type AttachmentService struct {
	mails       attachmentMailStore
	assignments activeAssignmentReader
	audits      auditWriter
	viewer      mailViewer
	tx          txProvider
	storage     attachmentStorage
	signer      urlSigner
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         AttachmentConfig
	pageCount   func(data []byte) (int, error)
	now         func() time.Time
}

// NewAttachmentService constructs an AttachmentService.
func NewAttachmentService(
	mails attachmentMailStore,
	assignments activeAssignmentReader,
	audits auditWriter,
	viewer mailViewer,
	tx txProvider,
	store attachmentStorage,
	signer urlSigner,
	metrics *MetricsService,
	logger *zap.Logger,
	cfg AttachmentConfig,
) *AttachmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 10 * 1024 * 1024
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/v1/attachments/download"
	}
	return &AttachmentService{
		mails:       mails,
		assignments: assignments,
		audits:      audits,
		viewer:      viewer,
		tx:          tx,
		storage:     store,
		signer:      signer,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		pageCount:   pdfPageCount,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func pdfPageCount(data []byte) (int, error) {
	return api.PageCount(bytes.NewReader(data), nil)
}

// Upload replaces the mail's attachment with a validated PDF.
func (s *AttachmentService) Upload(ctx context.Context, actor *policy.Actor, mailID, fileName string, data []byte) (info *AttachmentInfo, err error) {
	defer func() { s.metrics.RecordMutation("mail_attachment", err) }()

	name := sanitizeFileName(fileName)
	pages, err := s.validate(name, data)
	if err != nil {
		return nil, err
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, internal(err, "failed to start transaction")
	}
	var saved string
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			if saved != "" {
				_ = s.storage.Delete(saved)
			}
		}
	}()

	mail, err := s.mails.LockByID(ctx, tx, mailID)
	if err != nil {
		return nil, notFoundOr(err, "mail")
	}
	if mail.Assignments, err = s.assignments.ListActiveByMail(ctx, tx, mailID); err != nil {
		return nil, internal(err, "failed to load assignments")
	}
	if d := policy.UploadAttachment(actor, mail); !d.Allowed {
		return nil, denied(s.metrics, d)
	}

	previous := ""
	if mail.AttachmentKey != nil {
		previous = *mail.AttachmentKey
	}
	key := fmt.Sprintf("mails/%s/%s.pdf", mail.ID, uuid.NewString())
	if err = s.storage.Save(key, data); err != nil {
		return nil, internal(err, "failed to store attachment")
	}
	saved = key

	now := s.now()
	size := int64(len(data))
	mail.AttachmentName = &name
	mail.AttachmentSize = &size
	mail.AttachmentPages = &pages
	mail.AttachmentKey = &key
	mail.AttachmentUploadedBy = &actor.UserID
	mail.AttachmentUploadedAt = &now
	if err = s.mails.Update(ctx, tx, mail); err != nil {
		return nil, internal(err, "failed to update mail")
	}
	detail := map[string]interface{}{"file_name": name, "size": size, "pages": pages}
	if err = s.audits.Create(ctx, tx, auditEntry(mail.ID, actor, models.AuditAttachment, nil, detail, "")); err != nil {
		return nil, internal(err, "failed to record audit entry")
	}
	if err = tx.Commit(); err != nil {
		return nil, internal(err, "failed to commit attachment")
	}

	s.metrics.AddAttachmentBytes(size)
	if previous != "" && previous != key {
		if derr := s.storage.Delete(previous); derr != nil {
			logger.FromContext(ctx, s.logger).Warn("failed to delete replaced attachment", zap.String("key", previous), zap.Error(derr))
		}
	}
	return s.describe(mail)
}

func (s *AttachmentService) validate(name string, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, appErrors.Clone(appErrors.ErrInvalidAttachment, "file is empty")
	}
	if int64(len(data)) > s.cfg.MaxFileSizeBytes {
		return 0, appErrors.Clone(appErrors.ErrInvalidAttachment, fmt.Sprintf("file exceeds the %d MB limit", s.cfg.MaxFileSizeBytes/(1024*1024)))
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") || http.DetectContentType(data) != "application/pdf" {
		return 0, appErrors.Clone(appErrors.ErrInvalidAttachment, "only PDF files are accepted")
	}
	pages, err := s.pageCount(data)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInvalidAttachment.Code, appErrors.ErrInvalidAttachment.Status, "file is not a readable PDF")
	}
	return pages, nil
}

// Info returns attachment metadata and a fresh signed download link.
func (s *AttachmentService) Info(ctx context.Context, actor *policy.Actor, mailID string) (*AttachmentInfo, error) {
	mail, err := s.viewer.Get(ctx, actor, mailID)
	if err != nil {
		return nil, err
	}
	if mail.AttachmentKey == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "mail has no attachment")
	}
	return s.describe(mail)
}

func (s *AttachmentService) describe(mail *models.MailRecord) (*AttachmentInfo, error) {
	token, expiresAt, err := s.signer.Generate(mail.ID, *mail.AttachmentKey)
	if err != nil {
		return nil, internal(err, "failed to sign download link")
	}
	info := &AttachmentInfo{
		MailID:      mail.ID,
		DownloadURL: s.cfg.DownloadPath + "?token=" + url.QueryEscape(token),
		ExpiresAt:   expiresAt,
	}
	if mail.AttachmentName != nil {
		info.FileName = *mail.AttachmentName
	}
	if mail.AttachmentSize != nil {
		info.Size = *mail.AttachmentSize
	}
	if mail.AttachmentPages != nil {
		info.Pages = *mail.AttachmentPages
	}
	if mail.AttachmentUploadedBy != nil {
		info.UploadedBy = *mail.AttachmentUploadedBy
	}
	if mail.AttachmentUploadedAt != nil {
		info.UploadedAt = *mail.AttachmentUploadedAt
	}
	return info, nil
}

// Open resolves a signed token to the attachment it names. A token for a
// replaced attachment no longer resolves.
func (s *AttachmentService) Open(ctx context.Context, token string) (*AttachmentDownload, error) {
	mailID, key, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "download link has expired")
		}
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "download link is invalid")
	}
	mail, err := s.mails.FindByID(ctx, mailID)
	if err != nil {
		return nil, notFoundOr(err, "mail")
	}
	if mail.AttachmentKey == nil || *mail.AttachmentKey != key {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "attachment has been replaced")
	}
	body, err := s.storage.Open(key)
	if err != nil {
		return nil, internal(err, "failed to open attachment")
	}
	download := &AttachmentDownload{Body: body, FileName: "attachment.pdf"}
	if mail.AttachmentName != nil {
		download.FileName = *mail.AttachmentName
	}
	if mail.AttachmentSize != nil {
		download.Size = *mail.AttachmentSize
	}
	return download, nil
}

func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "attachment.pdf"
	}
	return name
}
