// Package api wires the HTTP surface: upload intake, job inspection,
// the human task queue, and profile configuration.
package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/haoran/skuflow/internal/api/handler"
	"github.com/haoran/skuflow/internal/api/middleware"
	"github.com/haoran/skuflow/internal/collab"
	"github.com/haoran/skuflow/internal/gateway"
	"github.com/haoran/skuflow/internal/repository"
)

// Deps carries everything the HTTP layer needs.
type Deps struct {
	DB       *gorm.DB
	Intake   *gateway.Intake
	Jobs     *repository.JobRepository
	Pages    *repository.PageRepository
	Tasks    *repository.TaskRepository
	Profiles *repository.ProfileRepository
	Locks    *collab.LockManager
	Manager  *collab.TaskManager
}

// SetupRouter configures the Gin router with all routes.
// Parameters:
//   - deps: constructed services and repositories.
//   - mode: gin mode (debug/release/test).
//   - cors: CORS policy.
// Returns:
//   - *gin.Engine: ready router.
func SetupRouter(deps Deps, mode string, cors middleware.CORSConfig) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cors))

	healthHandler := handler.NewHealthHandler(deps.DB)
	jobHandler := handler.NewJobHandler(deps.Intake, deps.Jobs, deps.Pages)
	taskHandler := handler.NewTaskHandler(deps.Locks, deps.Manager, deps.Tasks)
	profileHandler := handler.NewProfileHandler(deps.Profiles)

	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)

	v1 := r.Group("/api/v1")
	{
		// Jobs
		v1.POST("/jobs", jobHandler.Upload)
		v1.GET("/jobs/:id", jobHandler.Get)
		v1.GET("/jobs/:id/pages", jobHandler.ListPages)
		v1.GET("/jobs/:id/skus", jobHandler.ListSKUs)

		// Human task queue
		v1.POST("/tasks/acquire-next", taskHandler.AcquireNext)
		v1.GET("/tasks/:id", taskHandler.Get)
		v1.POST("/tasks/:id/heartbeat", taskHandler.Heartbeat)
		v1.POST("/tasks/:id/complete", taskHandler.Complete)
		v1.POST("/tasks/:id/skip", taskHandler.Skip)
		v1.POST("/tasks/:id/revert", taskHandler.Revert)

		// Threshold profiles
		v1.GET("/profiles/:name", profileHandler.GetActive)
		v1.GET("/profiles/:name/versions", profileHandler.ListVersions)
		v1.POST("/profiles", profileHandler.Append)
	}

	return r
}
