// Package config provides configuration constants and runtime configuration management.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Version information
const Version = "1.0.0"

// Cloud Code API endpoints, in selection order
const (
	AntigravityEndpointDaily    = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	AntigravityEndpointAutopush = "https://autopush-cloudcode-pa.sandbox.googleapis.com"
	AntigravityEndpointProd     = "https://cloudcode-pa.googleapis.com"
)

// AntigravityEndpoints is the endpoint order for generateContent calls
var AntigravityEndpoints = []string{
	AntigravityEndpointDaily,
	AntigravityEndpointAutopush,
	AntigravityEndpointProd,
}

// LoadCodeAssistEndpoint is where project discovery runs. Sandbox
// endpoints return inconsistent project metadata, so discovery is
// pinned to production.
const LoadCodeAssistEndpoint = AntigravityEndpointProd

// DefaultProjectID is used when discovery finds nothing and no project
// id is stored
const DefaultProjectID = "rising-fact-p41fc"

// AntigravityHeaders are the required headers for Antigravity API requests
func AntigravityHeaders() map[string]string {
	return map[string]string{
		"User-Agent":        getPlatformUserAgent(),
		"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":   getClientMetadata(),
	}
}

// getPlatformUserAgent generates the platform-specific User-Agent string
func getPlatformUserAgent() string {
	return fmt.Sprintf("antigravity/1.16.5 %s/%s", runtime.GOOS, runtime.GOARCH)
}

// IDE Type enum (numeric values as expected by the Cloud Code API)
const (
	IdeTypeUnspecified = 0
	IdeTypeAntigravity = 6
)

// Platform enum
const (
	PlatformUnspecified = 0
	PlatformWindows     = 1
	PlatformLinux       = 2
	PlatformMacOS       = 3
)

// Plugin Type enum
const (
	PluginTypeUnspecified = 0
	PluginTypeGemini      = 2
)

func getPlatformEnum() int {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		return PlatformLinux
	default:
		return PlatformUnspecified
	}
}

// getClientMetadata returns the client metadata JSON string
func getClientMetadata() string {
	metadata := map[string]int{
		"ideType":    IdeTypeAntigravity,
		"platform":   getPlatformEnum(),
		"pluginType": PluginTypeGemini,
	}
	data, _ := json.Marshal(metadata)
	return string(data)
}

// Timing and retry constants
const (
	// TokenRefreshSkewSeconds is how long before expiry a token counts as expired
	TokenRefreshSkewSeconds = 300
	// RequestBodyLimit is the max request body size (50MB)
	RequestBodyLimit int64 = 50 * 1024 * 1024
	// DefaultPort is the default server port
	DefaultPort = 8082
	// DefaultHost is the default bind address
	DefaultHost = "127.0.0.1"

	// MaxUpstreamRetries bounds 5xx retries across the endpoint pool
	MaxUpstreamRetries = 3
	// BackoffInitialSeconds is the starting backoff for consecutive failures
	BackoffInitialSeconds = 2
	// BackoffMaxSeconds caps the exponential backoff
	BackoffMaxSeconds = 60

	// DefaultMaxStreamingRetries bounds consecutive parse failures on the
	// same stream buffer prefix before discarding to the next frame
	DefaultMaxStreamingRetries = 12
	// StreamBufferLimit caps the rolling stream buffer (1 MiB)
	StreamBufferLimit = 1 << 20

	// DefaultRequestTimeoutSeconds is the per-read idle timeout
	DefaultRequestTimeoutSeconds = 90
	// TotalRequestTimeoutMs is the overall request deadline; thinking
	// models stream slowly
	TotalRequestTimeoutMs = 3000000
	// ConnectTimeoutSeconds is the per-endpoint connect timeout
	ConnectTimeoutSeconds = 10

	// DefaultMaxTokens when the client omits max_tokens
	DefaultMaxTokens = 4096
)

// Thinking model constants
const (
	SignatureCacheTTLMs   = 2 * 60 * 60 * 1000
	ClaudeThinkingBudget  = 32768
	ClaudeMaxOutputTokens = 64000
	GeminiSkipSignature   = "skip_thought_signature_validator"
)

// Token store location
var (
	// AccountStorePath is the path to the persisted OAuth accounts file
	AccountStorePath = filepath.Join(getHomeDir(), ".gclaude", "accounts.json")
	// AntigravityDBPath is the path to the Antigravity desktop app database
	AntigravityDBPath = getAntigravityDbPath()
)

// OAuth configuration
type OAuthConfigType struct {
	ClientID              string
	ClientSecret          string
	AuthURL               string
	TokenURL              string
	UserInfoURL           string
	CallbackPort          int
	CallbackFallbackPorts []int
	Scopes                []string
}

// OAuthConfig is the Google OAuth configuration
var OAuthConfig = OAuthConfigType{
	ClientID:     "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com",
	ClientSecret: "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",
	AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL:     "https://oauth2.googleapis.com/token",
	UserInfoURL:  "https://www.googleapis.com/oauth2/v1/userinfo",
	CallbackPort: getOAuthCallbackPort(),
	CallbackFallbackPorts: []int{51122, 51123, 51124, 51125, 51126},
	Scopes: []string{
		"https://www.googleapis.com/auth/cloud-platform",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
		"https://www.googleapis.com/auth/cclog",
		"https://www.googleapis.com/auth/experimentsandconfigs",
	},
}

// OAuthRedirectURI returns the OAuth redirect URI for a callback port
func OAuthRedirectURI(port int) string {
	return fmt.Sprintf("http://localhost:%d/oauth-callback", port)
}

// AntigravitySystemInstruction is the baseline system instruction the
// upstream expects as the first systemInstruction part
const AntigravitySystemInstruction = `You are Antigravity, a powerful agentic AI coding assistant designed by the Google Deepmind team working on Advanced Agentic Coding.You are pair programming with a USER to solve their coding task. The task may require creating a new codebase, modifying or debugging an existing codebase, or simply answering a question.**Absolute paths only****Proactiveness**`

// ModelFamily represents the model family type
type ModelFamily string

const (
	ModelFamilyClaude  ModelFamily = "claude"
	ModelFamilyGemini  ModelFamily = "gemini"
	ModelFamilyUnknown ModelFamily = "unknown"
)

// GetModelFamily returns the model family from the model name
func GetModelFamily(modelName string) ModelFamily {
	lower := strings.ToLower(modelName)
	if strings.Contains(lower, "claude") {
		return ModelFamilyClaude
	}
	if strings.Contains(lower, "gemini") {
		return ModelFamilyGemini
	}
	return ModelFamilyUnknown
}

// IsThinkingModel checks if a model supports thinking/reasoning output
func IsThinkingModel(modelName string) bool {
	lower := strings.ToLower(modelName)

	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}

	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		// gemini-3 and later think by default
		re := regexp.MustCompile(`gemini-(\d+)`)
		matches := re.FindStringSubmatch(lower)
		if len(matches) >= 2 {
			version, err := strconv.Atoi(matches[1])
			if err == nil && version >= 3 {
				return true
			}
		}
	}

	return false
}

// Helper functions

func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

func getAntigravityDbPath() string {
	home := getHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library/Application Support/Antigravity/User/globalStorage/state.vscdb")
	case "windows":
		return filepath.Join(home, "AppData/Roaming/Antigravity/User/globalStorage/state.vscdb")
	default:
		return filepath.Join(home, ".config/Antigravity/User/globalStorage/state.vscdb")
	}
}

func getOAuthCallbackPort() int {
	portStr := os.Getenv("OAUTH_CALLBACK_PORT")
	if portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err == nil {
			return port
		}
	}
	return 51121
}
