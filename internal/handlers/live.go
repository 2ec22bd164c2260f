package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/liveclass/internal/middleware"
	"github.com/mossy-p/liveclass/internal/models"
	"github.com/mossy-p/liveclass/internal/redis"
	"github.com/mossy-p/liveclass/internal/signaling"
	goredis "github.com/redis/go-redis/v9"
)

var errNotLive = errors.New("class is not live")

func liveKey(classID string) string {
	return "live:" + classID
}

// StartLive marks a class as broadcasting (teacher only) and returns its
// signaling channel. The status expires after ttl unless renewed by another
// start.
func StartLive(ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID := c.Param("classId")
		userID := c.GetString(middleware.UserIDKey)

		live := models.LiveClass{
			ClassID:   classID,
			Channel:   signaling.ChannelName(classID),
			TeacherID: userID,
			StartedAt: time.Now().UTC(),
		}

		redisClient := redis.GetClient()
		ctx := redis.GetContext()

		existing, err := getLive(classID)
		if err == nil && existing.TeacherID != userID {
			c.JSON(http.StatusConflict, gin.H{"error": "Class is already live with another teacher"})
			return
		}

		data, err := json.Marshal(live)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start live class"})
			return
		}
		if err := redisClient.Set(ctx, liveKey(classID), data, ttl).Err(); err != nil {
			log.Printf("Failed to store live class in Redis: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start live class"})
			return
		}

		log.Printf("Class %s is live on %s (teacher %s)", classID, live.Channel, userID)
		c.JSON(http.StatusCreated, models.StartLiveResponse{Channel: live.Channel})
	}
}

// GetLive reports whether a class is broadcasting (public)
func GetLive(c *gin.Context) {
	live, err := getLive(c.Param("classId"))
	if errors.Is(err, errNotLive) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Class is not live"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read live status"})
		return
	}
	c.JSON(http.StatusOK, live)
}

// EndLive ends a broadcast (owning teacher only) and forgets the signaling
// retained for late joiners.
func EndLive(retainer signaling.Retainer) gin.HandlerFunc {
	return func(c *gin.Context) {
		classID := c.Param("classId")
		userID := c.GetString(middleware.UserIDKey)

		live, err := getLive(classID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Class is not live"})
			return
		}
		if live.TeacherID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "Only the teacher who started the class can end it"})
			return
		}

		ctx := redis.GetContext()
		redis.GetClient().Del(ctx, liveKey(classID))
		if retainer != nil {
			if err := retainer.Forget(ctx, live.Channel); err != nil {
				log.Printf("Failed to forget retained signals on %s: %v", live.Channel, err)
			}
		}

		log.Printf("Class %s ended by %s", classID, userID)
		c.JSON(http.StatusOK, gin.H{"message": "Live class ended"})
	}
}

func getLive(classID string) (*models.LiveClass, error) {
	data, err := redis.GetClient().Get(redis.GetContext(), liveKey(classID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, errNotLive
	}
	if err != nil {
		return nil, err
	}

	var live models.LiveClass
	if err := json.Unmarshal(data, &live); err != nil {
		return nil, fmt.Errorf("failed to parse live class: %w", err)
	}
	return &live, nil
}

// liveChannel validates a channel name and checks that its class is live.
func liveChannel(channel string) (*models.LiveClass, error) {
	classID, ok := strings.CutPrefix(channel, signaling.ChannelPrefix)
	if !ok || classID == "" {
		return nil, fmt.Errorf("invalid channel %q", channel)
	}
	return getLive(classID)
}
