package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// apiClient talks to the server's REST API on behalf of one user.
type apiClient struct {
	base  string
	token string
	http  http.Client
}

func (a *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	return a.send(ctx, method, path, "application/json", reader, out)
}

func (a *apiClient) send(ctx context.Context, method, path, contentType string, body *bytes.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.base, "/")+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	if a.http.Timeout == 0 {
		a.http.Timeout = 10 * time.Second
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, apiErr.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// header returns the handshake header for the signaling relay.
func (a *apiClient) header() http.Header {
	return http.Header{"Authorization": {"Bearer " + a.token}}
}

func (a *apiClient) login(ctx context.Context, user, role string) error {
	var resp struct {
		Token string `json:"token"`
	}
	err := a.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": user,
		"password": "-",
		"role":     role,
	}, &resp)
	if err != nil {
		return err
	}
	a.token = resp.Token
	return nil
}

func (a *apiClient) startLive(ctx context.Context, classID string) (string, error) {
	var resp struct {
		Channel string `json:"channel"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/classes/"+classID+"/live", nil, &resp); err != nil {
		return "", err
	}
	return resp.Channel, nil
}

func (a *apiClient) endLive(ctx context.Context, classID string) error {
	return a.do(ctx, http.MethodDelete, "/api/classes/"+classID+"/live", nil, nil)
}

// lectureUploader posts queued artifacts to one class.
type lectureUploader struct {
	api     *apiClient
	classID string
}

func (u lectureUploader) Upload(ctx context.Context, filename string, data []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("artifact", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return u.api.send(ctx, http.MethodPost, "/api/classes/"+u.classID+"/lectures",
		mw.FormDataContentType(), bytes.NewReader(body.Bytes()), nil)
}
