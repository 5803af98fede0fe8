// Package dns resolves the records organizations configure for their custom domains.
package dns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/smallbiznis/memberhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("dns_record_not_found")

const queryTimeout = 10 * time.Second

// Resolver looks up records by fully qualified name. A name that does not exist
// returns ErrNotFound; an existing name without records of the type returns no values.
type Resolver interface {
	LookupCNAME(ctx context.Context, name string) ([]string, error)
	LookupTXT(ctx context.Context, name string) ([][]string, error)
}

var Module = fx.Module("providers.dns",
	fx.Provide(New),
)

// Client queries the configured resolvers in order until one answers.
type Client struct {
	client  *mdns.Client
	billing *config.BillingConfigHolder
	log     *zap.Logger
}

func New(billing *config.BillingConfigHolder, log *zap.Logger) Resolver {
	return &Client{
		client:  &mdns.Client{Net: "udp", Timeout: queryTimeout},
		billing: billing,
		log:     log.Named("dns"),
	}
}

func (c *Client) LookupCNAME(ctx context.Context, name string) ([]string, error) {
	answers, err := c.query(ctx, name, mdns.TypeCNAME)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, rr := range answers {
		if cname, ok := rr.(*mdns.CNAME); ok {
			targets = append(targets, cname.Target)
		}
	}
	return targets, nil
}

func (c *Client) LookupTXT(ctx context.Context, name string) ([][]string, error) {
	answers, err := c.query(ctx, name, mdns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var records [][]string
	for _, rr := range answers {
		if txt, ok := rr.(*mdns.TXT); ok {
			records = append(records, txt.Txt)
		}
	}
	return records, nil
}

func (c *Client) query(ctx context.Context, name string, qtype uint16) ([]mdns.RR, error) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn(strings.TrimSpace(name)), qtype)
	msg.RecursionDesired = true

	servers := c.billing.Get().DNS.Resolvers
	if len(servers) == 0 {
		return nil, errors.New("no dns resolvers configured")
	}

	var lastErr error
	for _, server := range servers {
		resp, _, err := c.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Debug("dns.exchange_failed", zap.String("server", server), zap.Error(err))
			lastErr = err
			continue
		}
		switch resp.Rcode {
		case mdns.RcodeSuccess:
			return resp.Answer, nil
		case mdns.RcodeNameError:
			return nil, ErrNotFound
		default:
			lastErr = fmt.Errorf("%s from %s", mdns.RcodeToString[resp.Rcode], server)
		}
	}
	return nil, fmt.Errorf("resolve %s: %w", name, lastErr)
}
