// Package script loads node graphs from HCL files.
//
// A script declares one optional `script` block with the frame range and the
// base context variables, followed by any number of labelled node blocks:
//
//	script {
//	  frame_start = 1
//	  frame_end   = 24
//	  variables   = { shot = "sh010" }
//	}
//
//	command "render" {
//	  args      = ["echo", "render ${context.shot} ${frame}"]
//	  pre_tasks = ["prep"]
//	}
//
// Node blocks reference each other by name through pre_tasks, in any order.
package script
