package http

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/providers/browser"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type gotoRequest struct {
	URL string `json:"url" binding:"required"`
}

type clickRequest struct {
	Selector string `json:"selector" binding:"required"`
}

type typeRequest struct {
	Selector string `json:"selector" binding:"required"`
	Text     string `json:"text"`
}

type screenshotRequest struct {
	FullPage bool   `json:"fullPage"`
	Format   string `json:"format"`
	Quality  int    `json:"quality"`
}

func bind(c *gin.Context, req any) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// Goto navigates the kiosk page
func (h *Handlers) Goto(c *gin.Context) {
	var req gotoRequest
	if err := bind(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	if u, err := url.Parse(req.URL); err != nil || u.Scheme == "" {
		h.respondError(c, fmt.Errorf("%w: url must be absolute", errBadRequest))
		return
	}
	if !h.ready(c) {
		return
	}

	if err := h.driver.Goto(c.Request.Context(), req.URL); err != nil {
		h.respondError(c, err)
		return
	}
	h.logger.Info("Navigated kiosk", zap.String("url", req.URL))
	ok(c, gin.H{"url": req.URL})
}

// Click clicks the first element matching a selector
func (h *Handlers) Click(c *gin.Context) {
	var req clickRequest
	if err := bind(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	if !h.ready(c) {
		return
	}

	if err := h.driver.Click(c.Request.Context(), req.Selector); err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, nil)
}

// Type fills an input
func (h *Handlers) Type(c *gin.Context) {
	var req typeRequest
	if err := bind(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	if !h.ready(c) {
		return
	}

	if err := h.driver.Type(c.Request.Context(), req.Selector, req.Text); err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, nil)
}

// Screenshot returns the page as an image
func (h *Handlers) Screenshot(c *gin.Context) {
	var req screenshotRequest
	// An empty body means defaults.
	if c.Request.ContentLength != 0 {
		if err := bind(c, &req); err != nil {
			h.respondError(c, err)
			return
		}
	}
	switch req.Format {
	case "":
		req.Format = "png"
	case "png", "jpeg":
	default:
		h.respondError(c, fmt.Errorf("%w: format must be png or jpeg", errBadRequest))
		return
	}
	if req.Quality < 0 || req.Quality > 100 {
		h.respondError(c, fmt.Errorf("%w: quality must be 0-100", errBadRequest))
		return
	}
	if !h.ready(c) {
		return
	}

	data, err := h.driver.Screenshot(c.Request.Context(), browser.ScreenshotOptions{
		FullPage: req.FullPage,
		Format:   req.Format,
		Quality:  req.Quality,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}

// Show restores the kiosk window to fullscreen
func (h *Handlers) Show(c *gin.Context) {
	if err := h.driver.Show(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, nil)
}

// Hide minimizes the kiosk window
func (h *Handlers) Hide(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	if err := h.driver.Hide(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, nil)
}

// Restart relaunches the browser. Running scripts end as page loss.
func (h *Handlers) Restart(c *gin.Context) {
	if err := h.driver.Restart(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, gin.H{"browser": h.driver.Status()})
}

// Close shuts the browser down. The next page operation relaunches it.
func (h *Handlers) Close(c *gin.Context) {
	if err := h.driver.Close(); err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, nil)
}
