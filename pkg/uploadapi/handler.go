// Package uploadapi serves short-lived signed URLs that let clients upload
// catalog CSV files directly into the import bucket's incoming area.
package uploadapi

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

// URLSigner mints a signed URL for one object. *storage.BucketHandle
// satisfies it.
type URLSigner interface {
	SignedURL(object string, opts *storage.SignedURLOptions) (string, error)
}

// Config holds the handler's settings.
type Config struct {
	// IncomingPrefix is prepended to every uploaded object name.
	IncomingPrefix string
	// Expiry bounds how long a minted URL stays valid.
	Expiry time.Duration
}

func (c *Config) applyDefaults() {
	if c.IncomingPrefix == "" {
		c.IncomingPrefix = "incoming/"
	}
	if c.Expiry <= 0 {
		c.Expiry = time.Hour
	}
}

// Handler answers GET /import?name=<file> with a signed PUT URL.
type Handler struct {
	cfg    Config
	signer URLSigner
	logger zerolog.Logger
}

// NewHandler creates the import URL handler.
func NewHandler(cfg Config, signer URLSigner, logger zerolog.Logger) *Handler {
	cfg.applyDefaults()
	return &Handler{
		cfg:    cfg,
		signer: signer,
		logger: logger.With().Str("component", "uploadapi").Logger(),
	}
}

// Register mounts the handler on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/import", h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "only GET is supported")
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'name' is required")
		return
	}
	// Uploads land directly under the incoming prefix, never outside it.
	object := h.cfg.IncomingPrefix + path.Base(name)

	url, err := h.signer.SignedURL(object, &storage.SignedURLOptions{
		Scheme:      storage.SigningSchemeV4,
		Method:      http.MethodPut,
		Expires:     time.Now().Add(h.cfg.Expiry),
		ContentType: "text/csv",
	})
	if err != nil {
		h.logger.Error().Err(err).Str("object", object).Msg("Failed to sign upload URL.")
		writeError(w, http.StatusInternalServerError, "could not create upload URL")
		return
	}

	h.logger.Info().Str("object", object).Msg("Issued signed upload URL.")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"url": url})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
