package web

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/magpie-social/magpie/activitypub"
	"github.com/magpie-social/magpie/db"
	"github.com/magpie-social/magpie/domain"
	"github.com/magpie-social/magpie/util"
)

// API bundles the token-guarded write surface. Every mutation that touches
// a public bookmark also queues the matching activity for the followers.
type API struct {
	conf   *util.AppConfig
	store  *db.DB
	outbox *activitypub.Client
}

func NewAPI(conf *util.AppConfig, store *db.DB, outbox *activitypub.Client) *API {
	return &API{conf: conf, store: store, outbox: outbox}
}

type bookmarkRequest struct {
	Title       string `json:"title" binding:"required"`
	URL         string `json:"url" binding:"required"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
}

type commentRequest struct {
	Content string `json:"content" binding:"required"`
}

func (a *API) CreateBookmark(c *gin.Context) {
	var req bookmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Visibility == "" {
		req.Visibility = "public"
	}

	bookmark := &domain.Bookmark{
		Title:       util.NormalizeInput(req.Title),
		URL:         req.URL,
		Description: req.Description,
		Visibility:  req.Visibility,
		CreatedAt:   time.Now(),
	}
	if _, err := a.store.CreateBookmark(bookmark); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not store bookmark"})
		return
	}

	if a.outbox != nil {
		if err := a.outbox.NotifyBookmarkCreated(bookmark); err != nil {
			log.Printf("Api: Could not federate bookmark %d: %v", bookmark.Id, err)
		}
	}

	c.JSON(http.StatusCreated, gin.H{"id": bookmark.Id})
}

func (a *API) UpdateBookmark(c *gin.Context) {
	bookmarkId, ok := parseId(c)
	if !ok {
		return
	}

	var req bookmarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bookmark, err := a.store.ReadBookmark(bookmarkId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Bookmark not found"})
		return
	}

	bookmark.Title = util.NormalizeInput(req.Title)
	bookmark.URL = req.URL
	bookmark.Description = req.Description
	if req.Visibility != "" {
		bookmark.Visibility = req.Visibility
	}
	if err := a.store.UpdateBookmark(bookmark); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not update bookmark"})
		return
	}

	if a.outbox != nil {
		if err := a.outbox.NotifyBookmarkUpdated(bookmark); err != nil {
			log.Printf("Api: Could not federate update of bookmark %d: %v", bookmark.Id, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"id": bookmark.Id})
}

func (a *API) DeleteBookmark(c *gin.Context) {
	bookmarkId, ok := parseId(c)
	if !ok {
		return
	}

	bookmark, err := a.store.ReadBookmark(bookmarkId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Bookmark not found"})
		return
	}
	wasPublic := bookmark.Public()

	if err := a.store.DeleteBookmark(bookmarkId); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not delete bookmark"})
		return
	}

	if a.outbox != nil && wasPublic {
		if err := a.outbox.NotifyBookmarkDeleted(bookmarkId); err != nil {
			log.Printf("Api: Could not federate delete of bookmark %d: %v", bookmarkId, err)
		}
	}

	c.Status(http.StatusNoContent)
}

func (a *API) GetBookmark(c *gin.Context) {
	bookmarkId, ok := parseId(c)
	if !ok {
		return
	}

	bookmark, err := a.store.ReadBookmark(bookmarkId)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Bookmark not found"})
		return
	}

	comments, err := a.store.ListCommentsByBookmark(bookmarkId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read comments"})
		return
	}

	likes, err := a.store.CountEngagementsByKind(bookmarkId, domain.EngagementLike)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read engagements"})
		return
	}
	announces, err := a.store.CountEngagementsByKind(bookmarkId, domain.EngagementAnnounce)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read engagements"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bookmark":  bookmark,
		"comments":  comments,
		"likes":     likes,
		"announces": announces,
	})
}

func (a *API) CreateComment(c *gin.Context) {
	bookmarkId, ok := parseId(c)
	if !ok {
		return
	}

	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := a.store.ReadBookmark(bookmarkId); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Bookmark not found"})
		return
	}

	comment := &domain.Comment{
		BookmarkId: bookmarkId,
		Content:    util.NormalizeInput(req.Content),
		Visible:    true,
		CreatedAt:  time.Now(),
	}
	if _, err := a.store.CreateComment(comment); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not store comment"})
		return
	}

	if a.outbox != nil {
		if err := a.outbox.NotifyCommentCreated(comment); err != nil {
			log.Printf("Api: Could not federate comment %d: %v", comment.Id, err)
		}
	}

	c.JSON(http.StatusCreated, gin.H{"id": comment.Id})
}

func parseId(c *gin.Context) (int64, bool) {
	parsed, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return parsed, true
}
