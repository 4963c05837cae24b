package digitalocean

import (
	"fmt"
	"strings"
	"text/template"
)

// cloudInitTemplate bootstraps the gateway daemon on a fresh droplet: download the binary, write its credentials, and
// start it under systemd. The gateway dials back to the control plane as soon as the unit starts, which is what flips
// the host from provisioning to active.
const cloudInitTemplate = `#cloud-config
users:
  - name: vibe
    shell: /bin/bash
    sudo: ALL=(ALL) NOPASSWD:ALL
write_files:
  - path: /etc/vibecode/gateway.env
    permissions: "0600"
    content: |
      GATEWAY_ID={{.GatewayID}}
      GATEWAY_TOKEN={{.Token}}
      SERVER_URL={{.ServerURL}}
  - path: /etc/systemd/system/vibecode-gateway.service
    permissions: "0644"
    content: |
      [Unit]
      Description=Vibecode gateway daemon
      After=network-online.target
      Wants=network-online.target

      [Service]
      EnvironmentFile=/etc/vibecode/gateway.env
      ExecStart=/usr/local/bin/vibecode-gateway
      Restart=always
      RestartSec=5
      User=vibe

      [Install]
      WantedBy=multi-user.target
runcmd:
  - mkdir -p /home/vibe && chown vibe:vibe /home/vibe
  - curl -fsSL {{.DownloadURL}} -o /usr/local/bin/vibecode-gateway
  - chmod +x /usr/local/bin/vibecode-gateway
  - systemctl daemon-reload
  - systemctl enable --now vibecode-gateway
`

var cloudInit = template.Must(template.New("cloudinit").Parse(cloudInitTemplate))

// UserData renders the cloud-init document that installs and starts the gateway daemon with its minted credentials.
func UserData(gatewayID, token, serverURL, downloadURL string) (string, error) {
	var b strings.Builder
	err := cloudInit.Execute(&b, struct {
		GatewayID   string
		Token       string
		ServerURL   string
		DownloadURL string
	}{gatewayID, token, serverURL, downloadURL})
	if err != nil {
		return "", fmt.Errorf("render cloud-init: %w", err)
	}
	return b.String(), nil
}
