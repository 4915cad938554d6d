// Package stage defines the declarative description of a single build stage.
//
// A [Descriptor] names a stage, the base environment it starts from, the
// commands it runs, the artifacts it imports from earlier stages and the
// artifacts it exports for later ones. Descriptors are validated on
// construction and immutable afterwards; every accessor returns a copy.
//
// Import and export rules have a compact textual form used by recipe files:
//
//	export  "<src> [<name>]"           e.g. "/app/dist dist"
//	import  "[<stage>:]<name> <dest>"  e.g. "build:dist /usr/share/nginx/html"
//
// An unqualified import refers to the stage's predecessor.
//
// Example usage:
//
//	d, err := stage.New(stage.Spec{
//	    ID:          "build",
//	    Base:        "node:20",
//	    Workdir:     "/app",
//	    Predecessor: "clone",
//	    Imports:     []stage.Import{{Artifact: "src", Dest: "/app"}},
//	    Commands:    []string{"npm ci", "npm run build"},
//	    Exports:     []stage.Export{{Source: "/app/dist", Name: "dist"}},
//	})
//	if err != nil {
//	    return err
//	}
package stage
