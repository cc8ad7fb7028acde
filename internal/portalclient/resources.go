// resources.go — заявки, объявления, расписания.
package portalclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/Pullock4981/diu-transport-client/internal/domain/model"
)

// SubmitRequest создаёт заявку на автобус и возвращает её ID.
func (c *Client) SubmitRequest(ctx context.Context, in model.TransportRequestInput) (string, error) {
	res, err := c.mutate(ctx, http.MethodPost, "/transport_requests", in)
	if err != nil {
		return "", err
	}
	return res.InsertedID, nil
}

// ListRequests возвращает заявки: все для администратора, свои — для остальных.
func (c *Client) ListRequests(ctx context.Context) ([]model.TransportRequest, error) {
	var list []model.TransportRequest
	if err := c.do(ctx, http.MethodGet, "/transport_requests", nil, &list, true); err != nil {
		return nil, err
	}
	return list, nil
}

// GetRequest возвращает заявку по ID.
func (c *Client) GetRequest(ctx context.Context, id string) (*model.TransportRequest, error) {
	var tr model.TransportRequest
	if err := c.do(ctx, http.MethodGet, "/transport_requests/"+url.PathEscape(id), nil, &tr, true); err != nil {
		return nil, err
	}
	return &tr, nil
}

// UpdateRequest применяет частичное обновление заявки (администратор).
func (c *Client) UpdateRequest(ctx context.Context, id string, upd model.TransportRequestUpdate) (string, error) {
	res, err := c.mutate(ctx, http.MethodPut, "/transport_requests/"+url.PathEscape(id), upd)
	if err != nil {
		return "", err
	}
	return res.Message, nil
}

// SetRequestStatus меняет статус заявки (администратор).
func (c *Client) SetRequestStatus(ctx context.Context, id, status string) (string, error) {
	return c.UpdateRequest(ctx, id, model.TransportRequestUpdate{Status: &status})
}

// DeleteRequest удаляет заявку (администратор).
func (c *Client) DeleteRequest(ctx context.Context, id string) error {
	_, err := c.mutate(ctx, http.MethodDelete, "/transport_requests/"+url.PathEscape(id), nil)
	return err
}

// ListNotices возвращает объявления по фильтру.
func (c *Client) ListNotices(ctx context.Context, f model.NoticeFilter) ([]model.Notice, error) {
	q := url.Values{}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	var list []model.Notice
	if err := c.do(ctx, http.MethodGet, withQuery("/notices", q), nil, &list, true); err != nil {
		return nil, err
	}
	return list, nil
}

// CreateNotice публикует объявление (администратор).
func (c *Client) CreateNotice(ctx context.Context, in model.NoticeInput) (*model.Notice, error) {
	var n model.Notice
	if err := c.do(ctx, http.MethodPost, "/notices", in, &n, true); err != nil {
		return nil, err
	}
	return &n, nil
}

// ListSchedules возвращает расписания по фильтру.
func (c *Client) ListSchedules(ctx context.Context, f model.ScheduleFilter) ([]model.Schedule, error) {
	q := url.Values{}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.RouteNo != "" {
		q.Set("route", f.RouteNo)
	}
	var list []model.Schedule
	if err := c.do(ctx, http.MethodGet, withQuery("/schedules", q), nil, &list, true); err != nil {
		return nil, err
	}
	return list, nil
}

// GetSchedule возвращает расписание по ID.
func (c *Client) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	var sc model.Schedule
	if err := c.do(ctx, http.MethodGet, "/schedules/"+url.PathEscape(id), nil, &sc, true); err != nil {
		return nil, err
	}
	return &sc, nil
}

// CreateSchedule добавляет маршрут (администратор).
func (c *Client) CreateSchedule(ctx context.Context, in model.Schedule) (*model.Schedule, error) {
	var sc model.Schedule
	if err := c.do(ctx, http.MethodPost, "/schedules", in, &sc, true); err != nil {
		return nil, err
	}
	return &sc, nil
}

// UpdateSchedule заменяет расписание (администратор).
func (c *Client) UpdateSchedule(ctx context.Context, id string, in model.Schedule) error {
	_, err := c.mutate(ctx, http.MethodPut, "/schedules/"+url.PathEscape(id), in)
	return err
}

// DeleteSchedule удаляет расписание (администратор).
func (c *Client) DeleteSchedule(ctx context.Context, id string) error {
	_, err := c.mutate(ctx, http.MethodDelete, "/schedules/"+url.PathEscape(id), nil)
	return err
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
