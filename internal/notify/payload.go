package notify

// APNSAlert is the alert block of an Apple push payload.
type APNSAlert struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Subtitle string `json:"subtitle,omitempty"`
}

// APNSAps is the aps dictionary of an Apple push payload.
type APNSAps struct {
	Alert    APNSAlert `json:"alert"`
	Sound    string    `json:"sound,omitempty"`
	Badge    int       `json:"badge,omitempty"`
	Category string    `json:"category,omitempty"`
	ThreadID string    `json:"thread-id,omitempty"`
}

// APNSPayload is the full Apple push payload. Transport is out of scope;
// this system only constructs the shape.
type APNSPayload struct {
	Aps  APNSAps           `json:"aps"`
	Data map[string]string `json:"data,omitempty"`
}

// FCMNotification is the notification block of an FCM payload.
type FCMNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

// FCMAndroid holds Android-specific delivery options.
type FCMAndroid struct {
	Priority  string `json:"priority,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

// FCMPayload is the full FCM push payload.
type FCMPayload struct {
	Notification FCMNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *FCMAndroid       `json:"android,omitempty"`
}

// BuildAPNS constructs the Apple payload for a notification. The thread
// id groups alerts by chat.
func BuildAPNS(n *Notification) *APNSPayload {
	return &APNSPayload{
		Aps: APNSAps{
			Alert:    APNSAlert{Title: n.Title, Body: n.Body},
			Sound:    n.Sound,
			Category: "message",
			ThreadID: n.ChatID,
		},
		Data: map[string]string{
			"chatId": n.ChatID,
			"msgKey": n.MsgKey,
		},
	}
}

// BuildFCM constructs the FCM payload for a notification.
func BuildFCM(n *Notification) *FCMPayload {
	return &FCMPayload{
		Notification: FCMNotification{Title: n.Title, Body: n.Body, Sound: n.Sound},
		Data: map[string]string{
			"chatId": n.ChatID,
			"msgKey": n.MsgKey,
		},
		Android: &FCMAndroid{Priority: "high", ChannelID: "messages"},
	}
}
