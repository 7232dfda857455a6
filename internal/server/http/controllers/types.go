package controllers

import "time"

type healthResp struct {
	Status     string `json:"status"`
	Repository string `json:"repository"`
	Leader     bool   `json:"leader"`
}

// processReq is a unit of work for one correlation key.
type processReq struct {
	Body    any            `json:"body"`
	Headers map[string]any `json:"headers"`
}

type processResp struct {
	Completed bool          `json:"completed"`
	Exchange  *exchangeView `json:"exchange,omitempty"`
}

type keysResp struct {
	Repository string   `json:"repository"`
	Keys       []string `json:"keys"`
}

type completeResp struct {
	Completed int `json:"completed"`
}

// exchangeView is the JSON form of a stored exchange.
type exchangeView struct {
	ID         string         `json:"id"`
	Body       any            `json:"body"`
	Headers    map[string]any `json:"headers,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Created    time.Time      `json:"created"`
}
