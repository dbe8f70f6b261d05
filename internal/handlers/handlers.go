package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/palm-pay/internal/auth"
	"github.com/example/palm-pay/internal/features"
	"github.com/example/palm-pay/internal/payment"
	"github.com/example/palm-pay/internal/usecase"
)

// MaxUploadSize bounds a single palm image upload.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for form fields and boundaries around the
// image part.
const multipartOverhead = 1 << 20

var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
}

// Enroller registers palms.
type Enroller interface {
	Enroll(ctx context.Context, userID, credential string, img *features.Image) (*usecase.EnrollmentResult, error)
	RegistrySummary(ctx context.Context) []usecase.RegistryEntry
}

// Authenticator matches palms and authorizes payments.
type Authenticator interface {
	Authenticate(ctx context.Context, img *features.Image) (*usecase.MatchResult, error)
	AuthorizePayment(ctx context.Context, req usecase.PaymentRequest) (*payment.Transaction, error)
	GetAttempt(ctx context.Context, attemptID string) (*usecase.AttemptOutcome, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type paymentBody struct {
	TemplateID  string `json:"template_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	Payee       string `json:"payee" binding:"required"`
	Description string `json:"description"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Everything but
// /health sits behind authMiddleware. Uploads decoding to more than
// maxImagePixels pixels are rejected; <= 0 selects features.DefaultMaxPixels.
func RegisterRoutes(router *gin.Engine, enroll Enroller, authn Authenticator, authMiddleware gin.HandlerFunc, maxImagePixels int) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	if authMiddleware != nil {
		protected.Use(authMiddleware)
	}

	protected.POST("/enroll", func(c *gin.Context) {
		img, ok := readImage(c, maxImagePixels)
		if !ok {
			return
		}

		result, err := enroll.Enroll(c.Request.Context(), c.PostForm("user_id"), c.PostForm("credential"), img)
		if err != nil {
			writeError(c, err)
			return
		}

		status := http.StatusCreated
		if result.Replaced {
			status = http.StatusOK
		}
		c.JSON(status, gin.H{
			"template_id": result.TemplateID.String(),
			"replaced":    result.Replaced,
		})
	})

	protected.POST("/authenticate", func(c *gin.Context) {
		img, ok := readImage(c, maxImagePixels)
		if !ok {
			return
		}

		result, err := authn.Authenticate(c.Request.Context(), img)
		if err != nil {
			if errors.Is(err, usecase.ErrNoMatch) && result != nil {
				c.JSON(http.StatusUnauthorized, gin.H{
					"attempt_id": result.AttemptID,
					"matched":    false,
					"score":      result.Score,
					"reason":     result.Reason,
				})
				return
			}
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"attempt_id":  result.AttemptID,
			"matched":     true,
			"template_id": result.TemplateID.String(),
			"score":       result.Score,
		})
	})

	protected.POST("/payments", func(c *gin.Context) {
		var body paymentBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "template_id, amount and payee are required"})
			return
		}

		amount, err := payment.ParseAmount(body.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		txn, err := authn.AuthorizePayment(c.Request.Context(), usecase.PaymentRequest{
			TemplateID:  features.TemplateID(body.TemplateID),
			Amount:      amount,
			Payee:       body.Payee,
			Description: body.Description,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		terminal, _ := auth.GetTerminalID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"transaction": txn,
			"amount":      txn.Amount.String(),
			"terminal":    terminal,
		})
	})

	protected.GET("/registry", func(c *gin.Context) {
		entries := enroll.RegistrySummary(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"count": len(entries), "entries": entries})
	})

	protected.GET("/attempts/:id", func(c *gin.Context) {
		attemptID := c.Param("id")
		if attemptID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		outcome, err := authn.GetAttempt(c.Request.Context(), attemptID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, outcome)
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := authn.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// readImage pulls the "image" part from a multipart request and decodes it.
// It writes the error response itself and reports false on failure.
func readImage(c *gin.Context, maxPixels int) (*features.Image, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return nil, false
	}
	if !isAllowedImage(file) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image must be jpeg or png"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}

	img, err := features.DecodeImage(data, maxPixels)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return img, true
}

func isAllowedImage(file *multipart.FileHeader) bool {
	contentType := strings.ToLower(strings.TrimSpace(file.Header.Get("Content-Type")))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	_, ok := allowedImageTypes[contentType]
	return ok
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, usecase.ErrInvalidEnrollment),
		errors.Is(err, usecase.ErrInvalidPayment),
		errors.Is(err, features.ErrInvalidImage):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, usecase.ErrExtractionFailed):
		status, message = http.StatusUnprocessableEntity, "no palm detected in image"
	case errors.Is(err, usecase.ErrNoMatch):
		status, message = http.StatusUnauthorized, "palm not recognized"
	case errors.Is(err, usecase.ErrUnknownTemplate):
		status, message = http.StatusNotFound, "template not enrolled"
	case errors.Is(err, usecase.ErrAttemptNotFound):
		status, message = http.StatusNotFound, "attempt not found"
	case errors.Is(err, usecase.ErrVaultKeyUnavailable):
		status, message = http.StatusServiceUnavailable, "credential vault unavailable"
	case errors.Is(err, usecase.ErrDecryptionFailed):
		message = "stored credential is unusable"
	}

	c.JSON(status, gin.H{"error": message})
}
