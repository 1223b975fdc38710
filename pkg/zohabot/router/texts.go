package router

import (
	"fmt"
	"strings"
	"time"
)

// Version is reported in the menu and status texts.
const Version = "1.0.0"

// Fixed replies.
const (
	PongText = "🏓 Pong! Bot is active."

	GeminiUsage = "❌ Please provide a query. Example: `.gemini What is AI?`"
	GrokUsage   = "❌ Please provide a query. Example: `.grok Tell me a joke`"

	ProfilePicPlaceholder = "📸 *My Profile Picture:*\n[Profile picture will be shown here]"

	UnknownCommandText = "❌ Unknown command. Available:\n" +
		"• `.gemini <query>` - Ask Gemini AI\n" +
		"• `.grok <query>` - Ask Grok AI\n" +
		"• `.menu` - Show menu\n" +
		"• `.help` - Show help\n" +
		"• `.status` - Bot status\n" +
		"• `.ping` - Check bot"
)

// GeminiReply labels a Gemini answer.
func GeminiReply(resp string) string { return "🤖 *Gemini:*\n\n" + resp }

// GrokReply labels a Grok answer.
func GrokReply(resp string) string { return "🚀 *Grok:*\n\n" + resp }

// MenuText is the `.menu` reply.
func MenuText(botName, creator string) string {
	return fmt.Sprintf(`📱 *%[1]s - AI Assistant* 🤖

*🌟 About Me:*
I'm %[1]s, a powerful AI assistant created by %[2]s.

*🚀 Features:*
• Gemini AI Integration
• Grok AI Support
• 24/7 Availability
• Group & Private Chat

*🔧 Commands:*
`+"`.gemini <query>`"+` - Ask Gemini AI
`+"`.grok <query>`"+` - Ask Grok AI
`+"`.menu`"+` - Show this menu
`+"`.help`"+` - Detailed help
`+"`.status`"+` - Bot status
`+"`.ping`"+` - Check response

*👩‍💻 Created by:* %[2]s
*⚡ Version:* %[3]s`, botName, creator, Version)
}

// HelpText is the `.help` reply.
func HelpText(botName string) string {
	return fmt.Sprintf(`🆘 *%[1]s Help Guide*

*📖 How to use:*
1. Use `+"`.gemini`"+` for Gemini AI queries
2. Use `+"`.grok`"+` for Grok AI responses
3. Mention my name for auto-reply

*📝 Examples:*
• `+"`.gemini What is artificial intelligence?`"+`
• `+"`.grok Tell me a joke about programming`"+`
• `+"`Hey %[1]s, how are you?`"+`

*⚠️ Note:*
• Works in groups and private chats
• Available 24/7
• Fast responses

*🔗 Quick Commands:*
• `+"`.menu`"+` - Show main menu with profile picture
• `+"`.status`"+` - Check bot status
• `+"`.ping`"+` - Test bot response`, botName)
}

// Status is the snapshot rendered by `.status`.
type Status struct {
	Connected    bool
	Backend      string
	SessionSaved bool
	ProfilePic   bool
	Uptime       time.Duration
}

// StatusText is the `.status` reply.
func StatusText(botName string, st Status) string {
	model := "❌ Not configured"
	if st.Backend != "" {
		model = "✅ " + st.Backend
	}
	return fmt.Sprintf(`📊 *%s Status*

*🔌 Connection:* %s
*🤖 AI Model:* %s
*📱 Active:* ✅ 24/7
*💾 Session:* %s
*📸 Profile Pic:* %s

*⏰ Uptime:* %s
*⚡ Version:* %s`,
		botName,
		check(st.Connected, "Connected", "Disconnected"),
		model,
		check(st.SessionSaved, "Saved", "Not saved"),
		check(st.ProfilePic, "Loaded", "Missing"),
		FormatUptime(st.Uptime),
		Version,
	)
}

func check(ok bool, yes, no string) string {
	if ok {
		return "✅ " + yes
	}
	return "❌ " + no
}

// FormatUptime renders d as "3d 4h 5m 6s", dropping leading zero units.
func FormatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Second {
		return "0s"
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	secs := d / time.Second

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if days > 0 || hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if days > 0 || hours > 0 || mins > 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	parts = append(parts, fmt.Sprintf("%ds", secs))
	return strings.Join(parts, " ")
}
