package api

import (
	"fmt"

	"github.com/avct/uasurfer"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

// Metadata keys stored alongside every journaled command
const (
	MetaIP             = "ip"
	MetaRequestID      = "request_id"
	MetaUserAgent      = "user_agent"
	MetaDeviceType     = "ua_device"
	MetaBrowserName    = "ua_browser"
	MetaBrowserVersion = "ua_browser_version"
	MetaOSPlatform     = "ua_platform"
	MetaOSName         = "ua_os"
	MetaOSVersion      = "ua_os_version"
	MetaBot            = "ua_bot"
)

// parseAgent returns the User-Agent fields kept as command metadata, nil
// for an empty agent
func parseAgent(agent string) map[string]string {
	if agent == "" {
		return nil
	}

	ua := uasurfer.Parse(agent)
	if ua == nil {
		return nil
	}

	meta := map[string]string{
		MetaDeviceType:     ua.DeviceType.StringTrimPrefix(),
		MetaBrowserName:    ua.Browser.Name.StringTrimPrefix(),
		MetaBrowserVersion: fmt.Sprintf("%d.%d.%d", ua.Browser.Version.Major, ua.Browser.Version.Minor, ua.Browser.Version.Patch),
		MetaOSPlatform:     ua.OS.Platform.StringTrimPrefix(),
		MetaOSName:         ua.OS.Name.StringTrimPrefix(),
		MetaOSVersion:      fmt.Sprintf("%d.%d.%d", ua.OS.Version.Major, ua.OS.Version.Minor, ua.OS.Version.Patch),
	}
	if ua.IsBot() {
		meta[MetaBot] = "true"
	}
	return meta
}

// requestMetadata collects the metadata attached to commands pushed while
// serving c
func requestMetadata(c *fiber.Ctx, enrich bool) map[string]string {
	meta := map[string]string{
		MetaIP: utils.CopyString(c.IP()),
	}
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		meta[MetaRequestID] = utils.CopyString(id)
	}

	agent := utils.CopyString(c.Get(fiber.HeaderUserAgent))
	if agent == "" {
		return meta
	}
	meta[MetaUserAgent] = agent

	if enrich {
		parsed := parseAgent(agent)
		for k, v := range parsed {
			meta[k] = v
		}
		recordUserAgent(parsed[MetaDeviceType], parsed[MetaOSName], parsed[MetaBot] == "true")
	}
	return meta
}
