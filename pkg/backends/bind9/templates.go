package bind9

import "github.com/hostpanel/orchestra/pkg/shell"

var (
	masterConfTmpl = shell.MustParse("master-conf", `
zone "{{.Name}}" {
    // {{.Banner}}
    type master;
    file "{{.ZonePath}}";
    allow-transfer { {{if .Slaves}}{{join "; " .Slaves}}{{else}}none{{end}}; };
{{- if .Slaves}}
    also-notify { {{join "; " .Slaves}}; };
{{- end}}
    notify yes;
};`)

	slaveConfTmpl = shell.MustParse("slave-conf", `
zone "{{.Name}}" {
    // {{.Banner}}
    type slave;
    file "{{.Name}}";
    masters { {{if .Masters}}{{join "; " .Masters}}{{else}}none{{end}}; };
    allow-notify { {{if .Masters}}{{join "; " .Masters}}{{else}}none{{end}}; };
};`)

	updateZoneTmpl = shell.MustParse("update-zone", `mkdir -p {{q .ZoneDir}}
printf '%s\n' {{q .Zone}} > {{q .ZoneTmp}}
diff -N -I'^\s*;;' -I'\sIN\s\s*SOA\s' {{q .ZonePath}} {{q .ZoneTmp}} || UPDATED=1
{{- if .CheckZone}}
{{.CheckZone}} {{q .Name}} {{q .ZoneTmp}}
{{- end}}
mv {{q .ZoneTmp}} {{q .ZonePath}}`)

	updateConfTmpl = shell.MustParse("update-conf", `conf={{q .Conf}}
test -e {{q .ConfPath}} || : > {{q .ConfPath}}
sed {{q (printf "/zone \"%s\".*/,/^\\s*};\\s*$/!d" (bre .Name))}} {{q .ConfPath}} | diff -B -I'^\s*//' - <(echo "${conf}") || {
    sed -i -e {{q (printf "/zone\\s\\s*\"%s\".*/,/^\\s*};/d" (bre .Name))}} \
           -e 'N; /^\s*\n\s*$/d; P; D' {{q .ConfPath}}
    echo "${conf}" >> {{q .ConfPath}}
    UPDATED=1
}`)

	removeSubzonesTmpl = shell.MustParse("remove-subzones", `sed -i -e {{q (printf "/zone\\s\\s*\".*\\.%s\".*/,/^\\s*};\\s*$/d" (bre .Name))}} \
       -e 'N; /^\s*\n\s*$/d; P; D' {{q .ConfPath}}
rm -f {{.SubzoneFiles}}`)

	deleteZoneTmpl = shell.MustParse("delete-zone", `rm -f {{q .ZonePath}}`)

	deleteConfTmpl = shell.MustParse("delete-conf", `test -e {{q .ConfPath}} || : > {{q .ConfPath}}
sed -e {{q (printf "/zone\\s\\s*\"%s\".*/,/^\\s*};\\s*$/d" (bre .Name))}} \
    -e 'N; /^\s*\n\s*$/d; P; D' {{q .ConfPath}} > {{q .ConfTmp}}
diff -B -I'^\s*//' {{q .ConfTmp}} {{q .ConfPath}} || UPDATED=1
mv {{q .ConfTmp}} {{q .ConfPath}}`)

	masterCommitTmpl = shell.MustParse("master-commit", `if [[ $UPDATED == 1 ]]; then {{.Reload}}; fi`)

	slaveCommitTmpl = shell.MustParse("slave-commit", `if [[ $UPDATED == 1 ]]; then { sleep 1 && {{.Reload}}; } & fi`)
)
