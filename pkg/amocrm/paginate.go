package amocrm

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// collectPages drains a list endpoint page by page, preserving arrival
// order. It stops at the first empty page or the first page whose envelope
// lacks a next link. On a fetch error mid-listing it returns everything
// gathered so far together with the error; the caller decides whether a
// truncated listing is acceptable.
func collectPages[T any](ctx context.Context, c *httpClient, path, resultKey string, query url.Values) ([]T, error) {
	var all []T

	for page := 1; ; page++ {
		q := url.Values{}
		for k, vs := range query {
			q[k] = vs
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(pageLimit))

		raw, err := c.request(ctx, "GET", path, nil, q)
		if err != nil {
			return all, eris.Wrapf(err, "amocrm: list %s page %d", path, page)
		}
		// 204: nothing (more) to list.
		if raw == nil {
			return all, nil
		}

		var env listEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return all, eris.Wrapf(err, "amocrm: decode %s envelope", path)
		}

		itemsRaw, ok := env.Embedded[resultKey]
		if !ok {
			zap.L().Debug("amocrm list: envelope without result key",
				zap.String("path", path),
				zap.String("key", resultKey),
				zap.Int("page", page),
			)
			return all, nil
		}

		var items []T
		if err := json.Unmarshal(itemsRaw, &items); err != nil {
			return all, eris.Wrapf(err, "amocrm: decode %s items", path)
		}
		if len(items) == 0 {
			return all, nil
		}
		all = append(all, items...)

		if env.Links.Next == nil {
			return all, nil
		}
	}
}
