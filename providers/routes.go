package providers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/tidwall/gjson"
)

// RegisterRoutes registers the realtime status and action routes.
func (p *RealtimeProvider) RegisterRoutes(group fiber.Router) {
	group.Get("/realtime/info", p.handleInfo)
	group.Get("/realtime/presence", p.handlePresence)
	group.Post("/realtime/presence/more", p.handlePresenceMore)
	group.Get("/realtime/ban", p.handleBan)
	group.Post("/realtime/send", p.handleSend)
	group.Post("/realtime/refresh", p.handleRefresh)
	group.Post("/realtime/credential", p.handleCredential)
}

func (p *RealtimeProvider) handleInfo(c fiber.Ctx) error {
	svc := p.Service()
	if svc == nil {
		return inactive(c)
	}
	return c.JSON(fiber.Map{
		"provider": p.ID(),
		"active":   p.IsActive(),
		"endpoint": p.cfg.Endpoint,
		"ws_path":  p.cfg.WSPath,
		"status":   svc.Status(),
	})
}

func (p *RealtimeProvider) handlePresence(c fiber.Ctx) error {
	out, err := p.actionPresence(nil)
	if err != nil {
		return inactive(c)
	}
	return c.JSON(out)
}

func (p *RealtimeProvider) handlePresenceMore(c fiber.Ctx) error {
	svc := p.Service()
	if svc == nil {
		return inactive(c)
	}
	svc.Presence().LoadMore()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"page_size": svc.Presence().Snapshot().PageSize})
}

func (p *RealtimeProvider) handleBan(c fiber.Ctx) error {
	out, err := p.actionBan(nil)
	if err != nil {
		return inactive(c)
	}
	return c.JSON(out)
}

func (p *RealtimeProvider) handleSend(c fiber.Ctx) error {
	body := c.Body()
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return badRequest(c, "body must be a JSON object")
	}
	var msg map[string]any
	if err := json.Unmarshal(body, &msg); err != nil {
		return badRequest(c, err.Error())
	}

	out, err := p.actionSend(map[string]any{"message": msg})
	switch {
	case errors.Is(err, errInactive):
		return inactive(c)
	case err != nil:
		return badRequest(c, err.Error())
	}
	if sent, _ := out.(map[string]any)["sent"].(bool); !sent {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "not_connected", "sent": false})
	}
	return c.JSON(out)
}

func (p *RealtimeProvider) handleRefresh(c fiber.Ctx) error {
	out, err := p.actionRefresh(nil)
	if err != nil {
		return inactive(c)
	}
	return c.Status(fiber.StatusAccepted).JSON(out)
}

func (p *RealtimeProvider) handleCredential(c fiber.Ctx) error {
	body := c.Body()
	token := gjson.GetBytes(body, "token")
	if !gjson.ValidBytes(body) || token.Type != gjson.String {
		return badRequest(c, "token is required")
	}
	if err := p.SetCredential(token.Str); err != nil {
		if errors.Is(err, errInactive) {
			return inactive(c)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"authenticated": token.Str != ""})
}

func inactive(c fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "inactive", "message": errInactive.Error()})
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": msg})
}
