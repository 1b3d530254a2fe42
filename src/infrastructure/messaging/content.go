package messaging

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path"
	"strings"

	domainErrors "go-line-scheduler/src/domain/errors"
	domainScheduled "go-line-scheduler/src/domain/scheduled"
	"go-line-scheduler/src/infrastructure/line"
	logger "go-line-scheduler/src/infrastructure/logger"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const uploadsPrefix = "/uploads/"

var allowedUploadTypes = []string{"image/jpeg", "image/png"}

// ImageResolver turns stored image references into URLs the platform can fetch.
type ImageResolver struct {
	baseURL   *url.URL
	uploadDir string
}

// NewImageResolver validates baseURL up front. Both arguments may be empty: without a base URL
// only absolute refs resolve, without an upload dir /uploads refs are not checked on disk.
func NewImageResolver(baseURL, uploadDir string) (*ImageResolver, error) {
	r := &ImageResolver{uploadDir: uploadDir}
	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/"))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid BASE_URL %q", baseURL)
		}
		r.baseURL = u
	}
	return r, nil
}

func (r *ImageResolver) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty image reference")
	}
	if strings.HasPrefix(strings.ToLower(ref), "data:") {
		return "", fmt.Errorf("inline data images are not supported")
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", fmt.Errorf("unsupported image scheme %q", u.Scheme)
		}
		if err := checkPublicHost(u.Hostname()); err != nil {
			return "", err
		}
		return u.String(), nil
	}

	if r.baseURL == nil {
		return "", fmt.Errorf("relative image reference %q needs BASE_URL", ref)
	}
	p := u.Path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	p = path.Clean(p)
	if strings.HasPrefix(p, uploadsPrefix) && r.uploadDir != "" {
		if err := r.checkUpload(strings.TrimPrefix(p, uploadsPrefix)); err != nil {
			return "", err
		}
	}
	if err := checkPublicHost(r.baseURL.Hostname()); err != nil {
		return "", err
	}
	resolved := *r.baseURL
	resolved.Path = strings.TrimRight(r.baseURL.Path, "/") + p
	resolved.RawQuery = u.RawQuery
	return resolved.String(), nil
}

func (r *ImageResolver) checkUpload(rel string) error {
	full, err := securejoin.SecureJoin(r.uploadDir, rel)
	if err != nil {
		return fmt.Errorf("resolve upload %q: %w", rel, err)
	}
	info, err := os.Stat(full)
	if err != nil {
		return fmt.Errorf("upload %q: %w", rel, err)
	}
	if info.IsDir() {
		return fmt.Errorf("upload %q is a directory", rel)
	}
	mtype, err := mimetype.DetectFile(full)
	if err != nil {
		return fmt.Errorf("detect upload type %q: %w", rel, err)
	}
	if !mimetype.EqualsAny(mtype.String(), allowedUploadTypes...) {
		return fmt.Errorf("upload %q is %s, want jpeg or png", rel, mtype.String())
	}
	return nil
}

func checkPublicHost(host string) error {
	if host == "" {
		return fmt.Errorf("image URL has no host")
	}
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".local") {
		return fmt.Errorf("image host %q is not publicly reachable", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return fmt.Errorf("image host %q is not publicly reachable", host)
		}
	}
	return nil
}

// Composer builds the ordered platform message list for a scheduled message.
type Composer struct {
	Images    *ImageResolver
	MaxBlocks int
	Logger    *logger.Logger
}

func NewComposer(images *ImageResolver, maxBlocks int, loggerInstance *logger.Logger) *Composer {
	if maxBlocks <= 0 || maxBlocks > line.MaxMessagesPerRequest {
		maxBlocks = line.MaxMessagesPerRequest
	}
	return &Composer{Images: images, MaxBlocks: maxBlocks, Logger: loggerInstance}
}

// Compose orders text and images by the imageFirst preference. When over the block limit the
// text is kept and trailing images are dropped. Unresolvable images are skipped and reported.
func (c *Composer) Compose(msg *domainScheduled.ScheduledMessage) ([]line.Message, error) {
	hasText := strings.TrimSpace(msg.Content) != ""

	images := make([]line.Message, 0, len(msg.ImageRefs))
	var skipped []string
	for _, ref := range msg.ImageRefs {
		resolved, err := c.Images.Resolve(ref)
		if err != nil {
			c.Logger.Warn("Skipping unusable image reference",
				zap.Int("messageID", msg.ID), zap.String("ref", ref), zap.Error(err))
			skipped = append(skipped, ref)
			continue
		}
		images = append(images, line.NewImageMessage(resolved))
	}

	if !hasText && len(images) == 0 {
		if len(skipped) > 0 {
			return nil, domainErrors.NewAppError(
				fmt.Errorf("no deliverable content: %d image reference(s) could not be resolved", len(skipped)),
				domainErrors.ValidationError)
		}
		return nil, domainErrors.NewAppError(fmt.Errorf("no content to send"), domainErrors.ValidationError)
	}

	imageSlots := c.MaxBlocks
	if hasText {
		imageSlots--
	}
	if len(images) > imageSlots {
		c.Logger.Warn("Too many content blocks, dropping trailing images",
			zap.Int("messageID", msg.ID),
			zap.Int("images", len(images)),
			zap.Int("kept", imageSlots))
		images = images[:imageSlots]
	}

	blocks := make([]line.Message, 0, len(images)+1)
	if hasText && !msg.ImageFirst {
		blocks = append(blocks, line.NewTextMessage(msg.Content))
	}
	blocks = append(blocks, images...)
	if hasText && msg.ImageFirst {
		blocks = append(blocks, line.NewTextMessage(msg.Content))
	}
	return blocks, nil
}
