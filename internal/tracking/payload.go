package tracking

// TrackRequest is the body of a server-side track call
type TrackRequest struct {
	Token              string             `json:"token"`
	Event              string             `json:"event"`
	CustomerProperties CustomerProperties `json:"customer_properties"`
	Properties         map[string]any     `json:"properties"`
	Time               int64              `json:"time"`
}

// CustomerProperties identifies the customer the event belongs to
type CustomerProperties struct {
	Email string `json:"$email"`
}
