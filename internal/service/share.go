package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/sealbox/sealbox/internal/metrics"
	"github.com/sealbox/sealbox/internal/model"
	"github.com/sealbox/sealbox/internal/sharetoken"
	"github.com/skip2/go-qrcode"
)

var (
	// ErrLinkInvalid covers every reason a share link cannot be redeemed:
	// bad signature, expiry and unknown file all look the same to the holder.
	ErrLinkInvalid = errors.New("invalid or expired link")

	ErrEmailDelivery = errors.New("failed to deliver share link")
)

const qrSize = 256

type TokenCodec interface {
	Mint(fileID string) (*sharetoken.Token, error)
	Verify(token string) (string, error)
}

type ShareMailer interface {
	SendShareLink(ctx context.Context, to, fileName, shareURL string, expiresAt time.Time) error
}

// Share is an issued share link.
type Share struct {
	File      *model.File
	Token     string
	URL       string
	ExpiresAt time.Time
}

type ShareService struct {
	files  *FileService
	tokens TokenCodec
	mailer ShareMailer
	appURL string
}

func NewShareService(files *FileService, tokens TokenCodec, mailer ShareMailer, appURL string) *ShareService {
	return &ShareService{
		files:  files,
		tokens: tokens,
		mailer: mailer,
		appURL: strings.TrimSuffix(appURL, "/"),
	}
}

// Create issues a share link for an existing file.
func (s *ShareService) Create(ctx context.Context, fileID string) (*Share, error) {
	file, err := s.files.ByID(ctx, fileID)
	if err != nil {
		return nil, err
	}

	tok, err := s.tokens.Mint(file.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue share token: %w", err)
	}
	metrics.SharesIssued.Inc()

	return &Share{
		File:      file,
		Token:     tok.Value,
		URL:       s.appURL + "/s/" + url.PathEscape(tok.Value),
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

// Send issues a share link and mails it to recipient.
func (s *ShareService) Send(ctx context.Context, fileID, recipient string) (*Share, error) {
	share, err := s.Create(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if err := s.mailer.SendShareLink(ctx, recipient, share.File.Name, share.URL, share.ExpiresAt); err != nil {
		slog.Error("failed to email share link", "file_id", fileID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrEmailDelivery, err)
	}

	return share, nil
}

// QR issues a share link and renders it as a PNG QR code.
func (s *ShareService) QR(ctx context.Context, fileID string) ([]byte, *Share, error) {
	share, err := s.Create(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}

	png, err := RenderQR(share.URL)
	if err != nil {
		return nil, nil, err
	}
	return png, share, nil
}

// Redeem verifies a share token and retrieves the file it grants. Token and
// lookup failures all come back as ErrLinkInvalid; integrity and backend
// failures are returned as they are.
func (s *ShareService) Redeem(ctx context.Context, token string) (*Download, error) {
	fileID, err := s.tokens.Verify(token)
	if err != nil {
		metrics.ShareRedemptions.WithLabelValues("rejected").Inc()
		slog.Info("share link rejected", "reason", err)
		return nil, ErrLinkInvalid
	}

	d, err := s.files.Retrieve(ctx, fileID)
	if errors.Is(err, ErrNotFound) {
		metrics.ShareRedemptions.WithLabelValues("rejected").Inc()
		slog.Info("share link rejected", "reason", "file not found", "file_id", fileID)
		return nil, ErrLinkInvalid
	}
	if err != nil {
		metrics.ShareRedemptions.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	metrics.ShareRedemptions.WithLabelValues(metrics.OutcomeOK).Inc()
	return d, nil
}

// RenderQR encodes u as a PNG QR code.
func RenderQR(u string) ([]byte, error) {
	png, err := qrcode.Encode(u, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR code: %w", err)
	}
	return png, nil
}
