package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeURL はURLが許可されない場合に返す。
var ErrUnsafeURL = errors.New("unsafe url")

// URLGuard はレシピ画像URLの検証と、外部画像取得用クライアントを提供する。
type URLGuard interface {
	// ValidateImageURL は画像URLを静的に検証する。空文字は画像なしとして許可する。
	ValidateImageURL(rawURL string) error
	// NewSafeClient はプライベートアドレスへの接続を拒否するHTTPクライアントを返す。
	NewSafeClient(timeout time.Duration) *http.Client
}

// allowedSchemes は画像URLに許可するスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はIPリテラルのホストで拒否するネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		nets = append(nets, n)
	}
	return nets
}

// urlGuard はURLGuardの実装。
type urlGuard struct{}

// NewURLGuard はURLGuardを生成する。
func NewURLGuard() URLGuard {
	return urlGuard{}
}

// ValidateImageURL はスキーム・ホストを検証する。
// DNS解決後のアドレスはNewSafeClientのダイヤラー側で検証される。
func (urlGuard) ValidateImageURL(rawURL string) error {
	if rawURL == "" {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != allowedSchemes[0] && scheme != allowedSchemes[1] {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrUnsafeURL, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrUnsafeURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: host %s is not allowed", ErrUnsafeURL, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, n := range blockedNetworks {
			if n.Contains(ip) {
				return fmt.Errorf("%w: address %s is not allowed", ErrUnsafeURL, ip)
			}
		}
	}
	return nil
}

// NewSafeClient はsafeurlで保護されたHTTPクライアントを返す。
func (urlGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(config).Client
}
