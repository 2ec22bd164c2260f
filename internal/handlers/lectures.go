package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mossy-p/liveclass/internal/lesson"
	"github.com/mossy-p/liveclass/internal/models"
	"github.com/mossy-p/liveclass/internal/redis"
	"github.com/mossy-p/liveclass/internal/store"
)

const maxArtifactSize = 200 << 20

// LectureStore records where lesson artifacts are stored
type LectureStore interface {
	Create(ctx context.Context, lecture *models.Lecture) error
	ListByClass(ctx context.Context, classID string) ([]models.Lecture, error)
	Get(ctx context.Context, id int64) (models.Lecture, error)
}

// Lectures serves packaged lessons. Artifacts are written to Blobs, recorded
// in Store, and read through Cache when one is set.
type Lectures struct {
	Store LectureStore
	Blobs *store.Blobs
	Cache *lesson.Cache
}

// Upload accepts a packaged lesson as the multipart file "artifact" (teacher
// only). An artifact whose timeline does not parse is refused.
func (l *Lectures) Upload(c *gin.Context) {
	classID := c.Param("classId")

	file, err := c.FormFile("artifact")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "artifact file is required"})
		return
	}
	if file.Size > maxArtifactSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "artifact too large"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read artifact"})
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, maxArtifactSize))
	f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read artifact"})
		return
	}

	pkg, err := lesson.Decode(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := pkg.Table(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	storagePath := classID + "/" + uuid.New().String() + ".zip"
	if _, err := l.Blobs.Put(storagePath, bytes.NewReader(data)); err != nil {
		log.Printf("Failed to store artifact %s: %v", storagePath, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store artifact"})
		return
	}

	lecture := &models.Lecture{
		ClassID:        classID,
		StoragePath:    storagePath,
		Subject:        pkg.Metadata.Subject,
		Teacher:        pkg.Metadata.Teacher,
		IsLiveRecorded: c.PostForm("live") == "true" || pkg.Metadata.Live,
	}
	if err := l.Store.Create(c.Request.Context(), lecture); err != nil {
		log.Printf("Failed to record lecture %s: %v", storagePath, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record lecture"})
		return
	}

	log.Printf("Lecture %d uploaded for class %s (%s)", lecture.ID, classID, lesson.Filename(pkg.Metadata))
	c.JSON(http.StatusCreated, lecture)
}

// List returns the lectures of a class, newest first
func (l *Lectures) List(c *gin.Context) {
	lectures, err := l.Store.ListByClass(c.Request.Context(), c.Param("classId"))
	if err != nil {
		log.Printf("Failed to list lectures: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list lectures"})
		return
	}
	if lectures == nil {
		lectures = []models.Lecture{}
	}
	c.JSON(http.StatusOK, lectures)
}

// Artifact downloads a lecture's packaged lesson
func (l *Lectures) Artifact(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lecture id"})
		return
	}

	lecture, err := l.Store.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Lecture not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to read lecture %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read lecture"})
		return
	}

	data, err := l.load(c.Request.Context(), lecture.StoragePath)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to load artifact %s: %v", lecture.StoragePath, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load artifact"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+path.Base(lecture.StoragePath)+`"`)
	c.Data(http.StatusOK, "application/zip", data)
}

// load reads an artifact from the cache, falling back to the blob store and
// filling the cache.
func (l *Lectures) load(ctx context.Context, storagePath string) ([]byte, error) {
	key := path.Base(storagePath)
	if l.Cache != nil {
		data, err := l.Cache.Get(ctx, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, lesson.ErrNotCached) {
			log.Printf("Artifact cache read failed: %v", err)
		}
	}

	f, err := l.Blobs.Open(storagePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	if l.Cache != nil {
		if err := l.Cache.Put(ctx, key, data); err != nil {
			log.Printf("Artifact cache write failed: %v", err)
		}
	}
	return data, nil
}

// Health reports the server and its Redis connection
func Health(c *gin.Context) {
	if err := redis.GetClient().Ping(redis.GetContext()).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
