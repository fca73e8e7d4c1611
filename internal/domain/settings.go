package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"gorm.io/datatypes"
)

// SettingsRowID is the primary key of the single settings row.
const SettingsRowID = 1

// AISettings parameterizes the reply generator.
type AISettings struct {
	SystemInstruction string   `json:"systemInstruction"`
	Temperature       float64  `json:"temperature"`
	SuggestedPrompts  []string `json:"suggestedPrompts"`
}

// SpiritualGiftSettings governs the free-token gift mechanic.
type SpiritualGiftSettings struct {
	Enabled         bool `json:"enabled"`
	CooldownSeconds int  `json:"cooldownSeconds"`
	TokensPerClick  int  `json:"tokensPerClick"`
	MaxDailyTokens  int  `json:"maxDailyTokens"`
}

// Cooldown returns the minimum time between two claims.
func (g SpiritualGiftSettings) Cooldown() time.Duration {
	return time.Duration(g.CooldownSeconds) * time.Second
}

// Marja is a selectable authority. Inactive entries stay listed so existing
// conversations keep a resolvable name.
type Marja struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// SEOSettings are the site meta fields.
type SEOSettings struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Keywords    string  `json:"keywords"`
	FaviconURL  *string `json:"faviconUrl"`
}

// LoginPageSettings is the copy shown on the sign-in page.
type LoginPageSettings struct {
	Title    string  `json:"title"`
	Subtitle string  `json:"subtitle"`
	LogoURL  *string `json:"logoUrl"`
}

// FontFamily is an uploaded web font.
type FontFamily struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// FontApplication maps UI areas to font family names.
type FontApplication struct {
	Body      string `json:"body"`
	Headings  string `json:"headings"`
	ChatInput string `json:"chatInput"`
	ShareCard string `json:"shareCard"`
}

// FontSettings groups uploaded fonts and where they apply.
type FontSettings struct {
	UploadedFamilies []FontFamily    `json:"uploadedFamilies"`
	Application      FontApplication `json:"application"`
}

// AppSettings is the site configuration document served by GET /settings.
type AppSettings struct {
	LogoURL              *string               `json:"logoUrl"`
	AdminAvatarURL       *string               `json:"adminAvatarUrl"`
	DefaultUserAvatarURL *string               `json:"defaultUserAvatarUrl"`
	AI                   AISettings            `json:"ai"`
	SpiritualGift        SpiritualGiftSettings `json:"spiritualGift"`
	DefaultUserTokens    int                   `json:"defaultUserTokens"`
	PaymentGatewayLogo1  *string               `json:"paymentGatewayLogo1"`
	PaymentGatewayLogo2  *string               `json:"paymentGatewayLogo2"`
	Maraji               []Marja               `json:"maraji"`
	SEO                  SEOSettings           `json:"seo"`
	LoginPage            LoginPageSettings     `json:"loginPage"`
	ShareCardTemplate    string                `json:"shareCardTemplate"`
	FontSettings         FontSettings          `json:"fontSettings"`
}

// DefaultAppSettings returns the settings used until an admin saves a
// document. Each call returns a fresh copy.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		AI: AISettings{
			SystemInstruction: "You are a helpful, spiritual assistant with a calm and modern tone. Respond in Persian.",
			Temperature:       0.7,
			SuggestedPrompts: []string{
				"حکم شرعی گوش دادن به موسیقی چیست؟",
				"آیا پرداخت خمس بر حقوق کارمندان واجب است؟",
				"شرایط و نحوه خواندن نماز آیات چگونه است؟",
				"حکم روزه گرفتن در سفرهای کوتاه مدت چیست؟",
			},
		},
		SpiritualGift: SpiritualGiftSettings{
			Enabled:         true,
			CooldownSeconds: 60,
			TokensPerClick:  1,
			MaxDailyTokens:  10,
		},
		DefaultUserTokens: 100,
		Maraji: []Marja{
			{ID: 1, Name: "آیت‌الله خامنه‌ای", Active: true},
			{ID: 2, Name: "آیت‌الله سیستانی", Active: true},
			{ID: 3, Name: "آیت‌الله مکارم شیرازی", Active: true},
			{ID: 4, Name: "آیت‌الله وحید خراسانی", Active: false},
		},
		SEO: SEOSettings{
			Title:       "پلتفرم چت مدرن",
			Description: "یک پلتفرم چت مدرن و معنوی با استفاده از هوش مصنوعی.",
			Keywords:    "چت, هوش مصنوعی, معنوی, مدرن",
		},
		LoginPage: LoginPageSettings{
			Title:    "به پلتفرم خوش آمدید",
			Subtitle: "برای ورود از ایمیل و رمز عبور خود استفاده کنید.",
		},
		FontSettings: FontSettings{
			UploadedFamilies: []FontFamily{},
			Application: FontApplication{
				Body: "default", Headings: "default", ChatInput: "default", ShareCard: "default",
			},
		},
	}
}

// ErrInvalidSettings wraps every settings validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// Validate checks numeric ranges and marja names. Marja names are compared
// case-folded, so two spellings differing only in case collide.
func (s AppSettings) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, fmt.Sprintf(format, args...))
	}
	if s.AI.Temperature < 0 || s.AI.Temperature > 2 {
		return bad("ai.temperature must be in [0,2]")
	}
	g := s.SpiritualGift
	if g.CooldownSeconds < 0 {
		return bad("spiritualGift.cooldownSeconds must be >= 0")
	}
	if g.TokensPerClick < 1 {
		return bad("spiritualGift.tokensPerClick must be >= 1")
	}
	if g.MaxDailyTokens < g.TokensPerClick {
		return bad("spiritualGift.maxDailyTokens must be >= tokensPerClick")
	}
	if s.DefaultUserTokens < 0 {
		return bad("defaultUserTokens must be >= 0")
	}
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(s.Maraji))
	for _, m := range s.Maraji {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return bad("maraji names must not be empty")
		}
		k := fold.String(name)
		if _, dup := seen[k]; dup {
			return bad("duplicate marja %q", name)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// SettingsRecord stores AppSettings as one JSON column.
type SettingsRecord struct {
	ID        uint                            `gorm:"primaryKey"`
	Data      datatypes.JSONType[AppSettings] `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName returns the database table name for SettingsRecord.
func (SettingsRecord) TableName() string { return "app_settings" }
