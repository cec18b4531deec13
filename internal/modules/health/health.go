package health

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/config"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/middleware"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/models"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/alerts"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/cron"
	pkgmail "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/mail"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/nativelog"
	pkgredis "github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/redis"
	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/pkg/response"
	"gorm.io/gorm"
)

var startedAt = time.Now()

type logItem struct {
	Size     string `json:"size"`
	Filename string `json:"filename"`
	Created  int64  `json:"created"`
}

func RegisterRoutes(rg *gin.RouterGroup, db *gorm.DB, rdb *pkgredis.Client, sched *cron.Scheduler, alertSvc *alerts.Service, cfg *config.AppConfig, authMW gin.HandlerFunc) {
	rg.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": int64(time.Since(startedAt).Seconds()),
		})
	})

	rg.GET("/health/ready", func(c *gin.Context) {
		ctx := c.Request.Context()

		sqlDB, err := db.DB()
		dbOK := err == nil && sqlDB.PingContext(ctx) == nil
		redisOK := rdb.Raw().Ping(ctx).Err() == nil

		status := "ok"
		code := http.StatusOK
		if !dbOK || !redisOK {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":   status,
			"database": dbOK,
			"redis":    redisOK,
		})
	})

	adminHealth := rg.Group("/health", authMW)

	jobs := rg.Group("/jobs", authMW)
	{
		jobs.GET("", func(c *gin.Context) {
			items := sched.List()
			byName := make(map[string]cron.ListItem, len(items))
			for _, item := range items {
				byName[item.Name] = item
			}
			response.OK(c, byName)
		})

		jobs.POST("/:name/run", func(c *gin.Context) {
			if err := sched.Run(c.Request.Context(), c.Param("name")); err != nil {
				response.NotFoundMsg(c, err.Error())
				return
			}
			response.OK(c, gin.H{"message": "job triggered"})
		})

		jobs.GET("/:name", func(c *gin.Context) {
			result, err := sched.GetTask(c.Param("name"))
			if err != nil {
				response.NotFoundMsg(c, err.Error())
				return
			}
			response.OK(c, result)
		})
	}

	adminHealth.POST("/alerts/test", func(c *gin.Context) {
		if err := alertSvc.Send("info", "Test alert", "Webhook delivery check requested from the admin API."); err != nil {
			response.UnprocessableEntity(c, err.Error())
			return
		}
		response.OK(c, gin.H{"ok": true})
	})

	adminHealth.GET("/email/test", func(c *gin.Context) {
		sender := pkgmail.NewSender(pkgmail.BuildConfig(cfg))
		if !sender.Enabled() {
			response.UnprocessableEntity(c, "mail is not enabled")
			return
		}

		var op models.OperatorModel
		if err := db.First(&op, "id = ?", middleware.CurrentOperatorID(c)).Error; err != nil {
			response.InternalError(c, err)
			return
		}
		if op.Mail == "" {
			response.UnprocessableEntity(c, "operator email not set")
			return
		}

		if err := sender.Send(pkgmail.Message{
			To:      []string{op.Mail},
			Subject: "ResearchFlow mail test",
			HTML:    "<p>Mail delivery is configured correctly.</p>",
		}); err != nil {
			response.UnprocessableEntity(c, err.Error())
			return
		}
		response.OK(c, gin.H{"ok": true})
	})

	logGroup := adminHealth.Group("/log")
	{
		logGroup.GET("/list", func(c *gin.Context) {
			entries, err := os.ReadDir(nativelog.ResolveDir())
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					response.OK(c, []logItem{})
					return
				}
				response.BadRequest(c, "log dir not exists")
				return
			}

			items := make([]logItem, 0, len(entries))
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				info, err := entry.Info()
				if err != nil {
					continue
				}
				items = append(items, logItem{
					Size:     formatByteSize(info.Size()),
					Filename: entry.Name(),
					Created:  info.ModTime().UnixMilli(),
				})
			}

			sort.Slice(items, func(i, j int) bool {
				return items[i].Created > items[j].Created
			})
			response.OK(c, items)
		})

		logGroup.GET("", func(c *gin.Context) {
			filename, ok := safeLogFilename(c.Query("filename"))
			if !ok {
				response.UnprocessableEntity(c, "filename must be string")
				return
			}

			data, err := os.ReadFile(filepath.Join(nativelog.ResolveDir(), filename))
			if err != nil {
				response.BadRequest(c, "log file not exists")
				return
			}
			c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
		})

		logGroup.DELETE("", func(c *gin.Context) {
			filename, ok := safeLogFilename(c.Query("filename"))
			if !ok {
				response.UnprocessableEntity(c, "filename must be string")
				return
			}

			logDir := nativelog.ResolveDir()
			targetPath := filepath.Join(logDir, filename)
			todayPath := filepath.Join(logDir, nativelog.TodayFilename(time.Now()))

			// Today's file is still open for appends; truncate instead of
			// removing it out from under the writer.
			if samePath(targetPath, todayPath) {
				if err := os.WriteFile(targetPath, []byte(""), 0o644); err != nil && !errors.Is(err, os.ErrNotExist) {
					response.InternalError(c, err)
					return
				}
			} else if err := os.Remove(targetPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				response.InternalError(c, err)
				return
			}
			response.NoContent(c)
		})
	}
}

func safeLogFilename(raw string) (string, bool) {
	filename := strings.TrimSpace(raw)
	if filename == "" {
		return "", false
	}
	filename = filepath.Base(filename)
	if filename == "." || filename == string(filepath.Separator) {
		return "", false
	}
	return filename, true
}

func formatByteSize(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

func samePath(a, b string) bool {
	left := filepath.Clean(a)
	right := filepath.Clean(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(left, right)
	}
	return left == right
}
