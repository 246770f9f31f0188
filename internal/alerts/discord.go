package alerts

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/Devdeo/devv/internal/config"
)

var (
	mu                sync.Mutex
	categoryCooldowns = make(map[string]time.Time)

	webhookSession *discordgo.Session
	deliver        = executeWebhook
)

const (
	colorOrange = 0xFFA500
	colorRed    = 0xFF4444
	colorCrit   = 0xFF0000
	colorGreen  = 0x2ECC71
)

// parseWebhookURL splits https://discord.com/api/webhooks/{id}/{token}.
func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", errors.New("webhook url has no id/token")
}

func executeWebhook(params *discordgo.WebhookParams) error {
	id, token, err := parseWebhookURL(config.DiscordWebhookURL)
	if err != nil {
		return err
	}
	mu.Lock()
	if webhookSession == nil {
		webhookSession, _ = discordgo.New("")
	}
	s := webhookSession
	mu.Unlock()
	_, err = s.WebhookExecute(id, token, false, params)
	return err
}

func send(category string, cooldown time.Duration, ping bool, color int, title, description string, fields map[string]string) {
	if !config.DiscordAlerts || config.DiscordWebhookURL == "" {
		return
	}

	mu.Lock()
	now := time.Now()
	if cooldown > 0 {
		if last, ok := categoryCooldowns[category]; ok && now.Sub(last) < cooldown {
			mu.Unlock()
			return
		}
	}
	categoryCooldowns[category] = now
	mu.Unlock()

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var embedFields []*discordgo.MessageEmbedField
	for _, k := range keys {
		v := fields[k]
		if v == "" {
			continue
		}
		embedFields = append(embedFields, &discordgo.MessageEmbedField{Name: k, Value: truncate(v, 1024), Inline: true})
	}

	params := &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       title,
			Description: truncate(description, 2048),
			Color:       color,
			Fields:      embedFields,
			Timestamp:   now.UTC().Format(time.RFC3339),
			Footer:      &discordgo.MessageEmbedFooter{Text: "relayd " + config.Version},
		}},
	}
	if ping && config.DiscordPingUserID != "" {
		params.Content = fmt.Sprintf("<@%s>", config.DiscordPingUserID)
	}

	fn := deliver
	go func() {
		if err := fn(params); err != nil {
			log.Warn().Err(err).Str("category", category).Msg("discord alert failed")
		}
	}()
}

func ServerStarted() {
	send("server-start", 0, false, colorGreen, "Server Started", fmt.Sprintf("relayd %s listening on :%s", config.Version, config.Port), nil)
}

func ServerStopping(activeSessions int) {
	send("server-stop", 0, false, colorOrange, "Server Stopping", fmt.Sprintf("relayd is shutting down, stopping %d session(s)", activeSessions), nil)
}

func SessionFailed(videoID, platform, detail string) {
	send("session", 5*time.Second, true, colorRed, "Stream Failed", detail, map[string]string{
		"Video":    videoID,
		"Platform": platform,
		"Error":    truncate(detail, 500),
	})
}

func CleanupAbandoned(videoID, filename string, err error) {
	send("cleanup", 30*time.Second, true, colorCrit, "Video Cleanup Abandoned", err.Error(), map[string]string{
		"Video": videoID,
		"File":  filename,
	})
}

func DiskSpaceLow(availGB float64) {
	send("disk", 10*time.Minute, true, colorOrange, "Disk Space Low", fmt.Sprintf("%.1f GB free in the upload area", availGB), nil)
}

func MarketUpstreamFailed(endpoint string, err error) {
	send("market", 60*time.Second, false, colorOrange, "Market Data Upstream Failed", err.Error(), map[string]string{
		"Endpoint": endpoint,
	})
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
