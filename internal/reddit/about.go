package reddit

import (
	"encoding/json"
	"fmt"
	stdhtml "html"
	"strings"
)

type aboutEnvelope struct {
	Data struct {
		DisplayName       string `json:"display_name"`
		Title             string `json:"title"`
		Subscribers       int    `json:"subscribers"`
		PublicDescription string `json:"public_description"`
		IconImg           string `json:"icon_img"`
		CommunityIcon     string `json:"community_icon"`
		BannerBackground  string `json:"banner_background_image"`
		PrimaryColor      string `json:"primary_color"`
		KeyColor          string `json:"key_color"`
	} `json:"data"`
}

func parseAbout(payload []byte) (AboutInfo, error) {
	var doc aboutEnvelope

	err := json.Unmarshal(payload, &doc)
	if err != nil {
		return AboutInfo{}, fmt.Errorf("decode about payload: %w", err)
	}

	data := doc.Data

	icon := data.CommunityIcon
	if strings.TrimSpace(icon) == "" {
		icon = data.IconImg
	}

	accent := data.PrimaryColor
	if strings.TrimSpace(accent) == "" {
		accent = data.KeyColor
	}

	return AboutInfo{
		Name:        data.DisplayName,
		Title:       data.Title,
		Subscribers: data.Subscribers,
		Description: data.PublicDescription,
		IconURL:     stdhtml.UnescapeString(strings.TrimSpace(icon)),
		BannerURL:   stdhtml.UnescapeString(strings.TrimSpace(data.BannerBackground)),
		AccentColor: strings.TrimSpace(accent),
	}, nil
}
