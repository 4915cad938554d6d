// Package recipe decodes build recipe files into stage descriptors.
//
// A recipe lists stages under a top-level "stages" key. YAML (and therefore
// JSON) and TOML are supported; the format is chosen from the file
// extension. Unknown keys are rejected so typos surface before a build.
//
//	stages:
//	  - id: clone
//	    base: alpine/git
//	    workdir: /app
//	    run: ["git clone https://example.com/app.git ."]
//	    exports: ["/app src"]
//	  - id: build
//	    base: node:20
//	    from: clone
//	    workdir: /app
//	    imports: ["src /app"]
//	    run: ["npm ci", "npm run build"]
//	    exports: ["/app/dist dist"]
//	  - id: deploy
//	    base: nginx:alpine
//	    from: build
//	    imports: ["dist /usr/share/nginx/html"]
//	    image:
//	      entrypoint: ["nginx", "-g", "daemon off;"]
//	      expose: [80]
package recipe
