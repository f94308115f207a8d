package chat

import (
	"fmt"
	"strings"

	"github.com/onnwee/chattender/weather"
	"github.com/onnwee/chattender/wotd"
)

// aqiLabels maps the OpenWeather 1..5 air quality index to words.
var aqiLabels = map[int]string{
	1: "good",
	2: "fair",
	3: "moderate",
	4: "poor",
	5: "very poor",
}

func formatWeather(rep *weather.Report) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🌡 %.0f°C, humidity %.0f%%, pressure %.0f hPa", rep.Temperature, rep.Humidity, rep.Pressure)
	if len(rep.Conditions) > 0 {
		sb.WriteString(", " + strings.Join(rep.Conditions, ", "))
	}
	fmt.Fprintf(&sb, ". Tomorrow: high %.0f°C, low %.0f°C", rep.TomorrowsHigh, rep.TomorrowsLow)
	if len(rep.TomorrowsConditions) > 0 {
		sb.WriteString(", " + strings.Join(rep.TomorrowsConditions, ", "))
	}
	sb.WriteString(".")
	if rep.HasAirQuality {
		if label, ok := aqiLabels[rep.AirQualityIndex]; ok {
			fmt.Fprintf(&sb, " Air quality: %s.", label)
		}
	}
	for _, alert := range rep.Alerts {
		sb.WriteString(" " + alert)
	}
	return sb.String()
}

func formatWotd(e *wotd.Entry) string {
	word := e.Word
	if e.Transliteration != "" {
		word = fmt.Sprintf("%s (%s)", e.Word, e.Transliteration)
	}
	if e.HasExamples() {
		return fmt.Sprintf("%s — %s. Example: %s %s", word, e.Definition, e.ForeignExample, e.EnglishExample)
	}
	return fmt.Sprintf("%s — %s", word, e.Definition)
}

func formatLink(handle, kind, link string) string {
	if strings.TrimSpace(link) == "" {
		return fmt.Sprintf("%s has no %s link available", handle, kind)
	}
	return fmt.Sprintf("%s's %s: %s", handle, kind, link)
}
