package guard

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-church-auth"
)

// DefaultLocalsKey is where the session snapshot is stored in fiber locals.
const DefaultLocalsKey = "session"

// Config for the route guard middleware.
type Config struct {
	// Guard decides every request. Required.
	Guard *auth.Guard
	// Filter skips the middleware when it returns true.
	Filter func(*fiber.Ctx) bool
	// LoginPath is the redirect target for unauthenticated visitors.
	LoginPath string
	// RetryAfter is advertised while the session is still loading.
	RetryAfter time.Duration
	// LocalsKey stores the snapshot in fiber locals.
	LocalsKey string
	// RequirePermissions must all be granted to render.
	RequirePermissions []auth.Permission
	// RequireAnyPermission needs at least one granted permission.
	RequireAnyPermission []auth.Permission

	// LoadingHandler overrides the default 503 response.
	LoadingHandler fiber.Handler
	// ForbiddenHandler overrides the default 403 response.
	ForbiddenHandler fiber.Handler
}

// ConfigDefault is used for zero valued fields.
var ConfigDefault = Config{
	LoginPath:  "/admin/login",
	RetryAfter: time.Second,
	LocalsKey:  DefaultLocalsKey,
}

// FromConfig builds a middleware Config for g from the session options.
func FromConfig(cfg auth.Config, g *auth.Guard) Config {
	return Config{
		Guard:     g,
		LoginPath: cfg.GetLoginPath(),
	}
}

func configDefault(config ...Config) Config {
	if len(config) < 1 {
		panic("guard: Config with a Guard is required")
	}

	cfg := config[0]
	if cfg.Guard == nil {
		panic("guard: Config.Guard is required")
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = ConfigDefault.LoginPath
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = ConfigDefault.RetryAfter
	}
	if cfg.LocalsKey == "" {
		cfg.LocalsKey = ConfigDefault.LocalsKey
	}
	if cfg.LoadingHandler == nil {
		retry := strconv.Itoa(int(cfg.RetryAfter.Round(time.Second) / time.Second))
		if retry == "0" {
			retry = "1"
		}
		cfg.LoadingHandler = func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, retry)
			return c.SendStatus(fiber.StatusServiceUnavailable)
		}
	}
	if cfg.ForbiddenHandler == nil {
		cfg.ForbiddenHandler = func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"error":   auth.MsgAccessDenied,
			})
		}
	}
	return cfg
}

// New gates fiber routes on the session. Loading answers 503, the first
// unauthenticated request of an episode redirects to LoginPath and later
// ones get an empty 401. Rendering requests carry the snapshot in the
// user context and in locals.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		snap, decision := cfg.Guard.Evaluate()

		switch decision {
		case auth.DecisionLoading:
			return cfg.LoadingHandler(c)
		case auth.DecisionRedirect:
			return c.Redirect(cfg.LoginPath, fiber.StatusFound)
		case auth.DecisionBlank:
			c.Status(fiber.StatusUnauthorized)
			return nil
		}

		perms := snap.Permissions()
		if len(cfg.RequirePermissions) > 0 && !perms.CanAll(cfg.RequirePermissions...) {
			return cfg.ForbiddenHandler(c)
		}
		if len(cfg.RequireAnyPermission) > 0 && !perms.CanAny(cfg.RequireAnyPermission...) {
			return cfg.ForbiddenHandler(c)
		}

		c.Locals(cfg.LocalsKey, snap)
		c.SetUserContext(auth.WithContext(c.UserContext(), snap))

		return c.Next()
	}
}

// RequirePermission is a follow-up middleware for routes behind New that
// need a specific permission.
func RequirePermission(permissions ...auth.Permission) fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, ok := auth.FromContext(c.UserContext())
		if !ok || !snap.Permissions().CanAll(permissions...) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"error":   auth.MsgAccessDenied,
			})
		}
		return c.Next()
	}
}
