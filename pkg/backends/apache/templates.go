package apache

import "github.com/hostpanel/orchestra/pkg/shell"

var (
	vhostTmpl = shell.MustParse("vhost", `# {{.Banner}}
{{- if .HTTP}}

<VirtualHost {{.Listen 80}}>
    ServerName {{.ServerName}}
{{- if .Aliases}}
    ServerAlias {{join " " .Aliases}}
{{- end}}
{{- if .RedirectHTTPS}}
    Redirect permanent / https://{{.ServerName}}/
{{- else}}
    DocumentRoot {{.DocumentRoot}}
    CustomLog {{.AccessLog}} combined
    ErrorLog {{.ErrorLog}}
{{- end}}
</VirtualHost>
{{- end}}
{{- if .HTTPS}}

<VirtualHost {{.Listen 443}}>
    ServerName {{.ServerName}}
{{- if .Aliases}}
    ServerAlias {{join " " .Aliases}}
{{- end}}
    DocumentRoot {{.DocumentRoot}}
    CustomLog {{.AccessLog}} combined
    ErrorLog {{.ErrorLog}}
    SSLEngine on
    SSLCertificateFile {{.CertFile}}
    SSLCertificateKeyFile {{.KeyFile}}
</VirtualHost>
{{- end}}`)

	saveTmpl = shell.MustParse("save-site", `mkdir -p {{q .AvailableDir}}
conf={{q .Conf}}
echo "${conf}" | diff -N -I'^\s*#' {{q .Path}} - || { echo "${conf}" > {{q .Path}}; UPDATED=1; }
{{- if .Active}}
test -e {{q .EnabledPath}} || { {{.Enable}} {{q .Site}}; UPDATED=1; }
{{- else}}
test ! -e {{q .EnabledPath}} || { {{.Disable}} {{q .Site}}; UPDATED=1; }
{{- end}}`)

	deleteTmpl = shell.MustParse("delete-site", `test ! -e {{q .EnabledPath}} || { {{.Disable}} {{q .Site}}; UPDATED=1; }
test ! -e {{q .Path}} || { rm -f {{q .Path}}; UPDATED=1; }`)

	commitTmpl = shell.MustParse("commit", `if [[ $UPDATED == 1 ]]; then
{{- if .ConfigTest}}
    {{.ConfigTest}}
{{- end}}
    {{.Reload}}
fi`)
)
