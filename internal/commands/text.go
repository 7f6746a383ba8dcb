package commands

const helpText = "🤖 <b>Telegram Scheduler Bot Help</b>\n\n" +
	"<b>Commands for Group Admins:</b>\n" +
	"• <code>/setschedule HH:MM message</code> - Set daily message\n" +
	"  Example: <code>/setschedule 09:00 Good morning team! 🌅</code>\n\n" +
	"• <code>/setrepeating HH:MM YYYY-MM-DD message</code> - Daily message until a date\n" +
	"  Example: <code>/setrepeating 09:00 2024-12-20 Sprint standup</code>\n\n" +
	"• <code>/setcountdown HH:MM YYYY-MM-DD title</code> - Set countdown\n" +
	"  Example: <code>/setcountdown 10:00 2024-12-31 New Year</code>\n\n" +
	"• <code>/status</code> - View all scheduled messages\n" +
	"• <code>/removeschedule ID</code> - Remove schedule by ID\n" +
	"• <code>/settimezone TIMEZONE</code> - Set group timezone\n" +
	"  Example: <code>/settimezone America/New_York</code>\n" +
	"• <code>/audit</code> - Recent configuration changes\n\n" +
	"<b>Message Templates (for daily messages):</b>\n" +
	"• <code>{date}</code> - Current date (YYYY-MM-DD)\n" +
	"• <code>{time}</code> - Current time (HH:MM)\n" +
	"• <code>{day}</code> - Day of week (Monday, Tuesday...)\n" +
	"• <code>{month}</code> - Month name (January, February...)\n" +
	"• <code>{year}</code> - Current year\n\n" +
	"<b>Example with templates:</b>\n" +
	"<code>/setschedule 08:00 📅 Today is {day}, {date}. Have a great day!</code>\n\n" +
	"<b>Commands for Everyone:</b>\n" +
	"• <code>/help</code> - Show this help message\n" +
	"• <code>/status</code> - View current schedules\n\n" +
	"<i>Note: Time format is 24-hour (HH:MM). All times are in the group's timezone.</i>"

const privateStartText = "👋 Hello! I'm a group scheduler bot.\n\n" +
	"Add me to a group and use /start there to begin scheduling messages!\n\n" +
	"Use /help for more information."

const (
	usageSetSchedule = "❌ Usage: <code>/setschedule HH:MM message</code>\n" +
		"Example: <code>/setschedule 09:00 Good morning team! 🌅</code>"
	usageSetRepeating = "❌ Usage: <code>/setrepeating HH:MM YYYY-MM-DD message</code>\n" +
		"Example: <code>/setrepeating 09:00 2024-12-20 Sprint standup</code>"
	usageSetCountdown = "❌ Usage: <code>/setcountdown HH:MM YYYY-MM-DD title</code>\n" +
		"Example: <code>/setcountdown 10:00 2024-12-31 New Year Celebration</code>"
	usageRemove = "❌ Usage: <code>/removeschedule ID</code>\n" +
		"Use /status to see schedule IDs"
	usageSetTimezone = "❌ Usage: <code>/settimezone TIMEZONE</code>\n\n" +
		"Examples:\n" +
		"• <code>/settimezone UTC</code>\n" +
		"• <code>/settimezone America/New_York</code>\n" +
		"• <code>/settimezone Europe/London</code>\n" +
		"• <code>/settimezone Asia/Tokyo</code>"

	errTimeFormat     = "❌ Invalid time format! Use HH:MM (24-hour format)"
	errCountdownInput = "❌ Invalid format!\nTime: HH:MM (24-hour)\nDate: YYYY-MM-DD"
	errRepeatingInput = "❌ Invalid format!\nTime: HH:MM (24-hour)\nEnd date: YYYY-MM-DD"
	errEndDatePassed  = "❌ The end date has already passed."
	errScheduleID     = "❌ Invalid schedule ID! Must be a number."
	errUnknownZone    = "❌ Unknown timezone: %s\n\n" +
		"Please use a valid timezone like:\n" +
		"• UTC\n" +
		"• America/New_York\n" +
		"• Europe/London\n" +
		"• Asia/Tokyo"
)
