package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"github.com/ashureev/comfort-companion/internal/sessionstate"
	"github.com/go-chi/chi/v5"
	"golang.org/x/image/draw"
)

const (
	// PhotoMaxDimension bounds the longer edge of a stored photo.
	PhotoMaxDimension = 800

	// PhotoMaxPixels bounds the decoded size of an uploaded photo.
	PhotoMaxPixels = 40_000_000

	maxPhotoUpload = 15 << 20
	photoQuality   = 85
)

var errPhotoTooLarge = errors.New("photo dimensions too large")

// GetPhoto returns the stored patient photo as base64 JPEG.
func (h *Handler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	photo, err := h.state.Photo(r.Context())
	if err != nil {
		h.writeResult(w, err, nil)
		return
	}
	if photo == "" {
		Error(w, http.StatusNotFound, "no photo uploaded")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"photo": photo})
}

// UploadPhoto accepts a raw JPEG or PNG body, downscales it and stores it.
func (h *Handler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	data, err := readLimited(r.Body, maxPhotoUpload)
	if err != nil {
		JSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": err.Error(), "warning": "Photo is too large to upload."})
		return
	}
	encoded, width, height, err := downscalePhoto(data, PhotoMaxDimension)
	if errors.Is(err, errPhotoTooLarge) {
		JSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": err.Error(), "warning": "Photo is too large to upload."})
		return
	}
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	b64 := base64.StdEncoding.EncodeToString(encoded)
	h.writeResult(w, h.state.SetPhoto(r.Context(), b64), map[string]any{
		"width":  width,
		"height": height,
		"bytes":  len(encoded),
	})
}

// GetMedia returns how many items of a media kind are stored.
func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request) {
	kind, ok := mediaKind(r)
	if !ok {
		Error(w, http.StatusNotFound, "unknown media kind")
		return
	}
	items, err := h.state.Media(r.Context(), kind)
	if err != nil {
		h.writeResult(w, err, nil)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"kind": kind, "count": len(items)})
}

// UploadMedia appends a raw video or music body to its list.
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	kind, ok := mediaKind(r)
	if !ok {
		Error(w, http.StatusNotFound, "unknown media kind")
		return
	}
	data, err := readLimited(r.Body, kind.MaxBytes())
	if err != nil {
		h.writeResult(w, fmt.Errorf("%w: %v", sessionstate.ErrMediaTooLarge, err), nil)
		return
	}
	if len(data) == 0 {
		Error(w, http.StatusBadRequest, "empty upload")
		return
	}
	b64 := base64.StdEncoding.EncodeToString(data)
	h.writeResult(w, h.state.AppendMedia(r.Context(), kind, b64, len(data)), map[string]any{
		"kind":  kind,
		"bytes": len(data),
	})
}

func mediaKind(r *http.Request) (sessionstate.MediaKind, bool) {
	kind := sessionstate.MediaKind(chi.URLParam(r, "kind"))
	switch kind {
	case sessionstate.MediaVideo, sessionstate.MediaMusic:
		return kind, true
	}
	return "", false
}

// readLimited reads at most limit bytes and fails if the body is longer.
func readLimited(body io.Reader, limit int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > limit {
		return nil, fmt.Errorf("upload exceeds %d bytes", limit)
	}
	return data, nil
}

// downscalePhoto re-encodes the image as JPEG with its longer edge at most
// maxDim pixels. Smaller images keep their size. Images above
// PhotoMaxPixels are rejected before decoding.
func downscalePhoto(data []byte, maxDim int) ([]byte, int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode photo: %w", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > PhotoMaxPixels {
		return nil, 0, 0, fmt.Errorf("%w: %dx%d exceeds %d pixels", errPhotoTooLarge, cfg.Width, cfg.Height, PhotoMaxPixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode photo: %w", err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxDim || h > maxDim {
		if w >= h {
			h = max(1, h*maxDim/w)
			w = maxDim
		} else {
			w = max(1, w*maxDim/h)
			h = maxDim
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: photoQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode photo: %w", err)
	}
	return buf.Bytes(), w, h, nil
}
