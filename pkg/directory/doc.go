// Package directory answers who may review what: operator roles, per-risk
// approval permissions, allowed domains, daily approval limits and
// reliability scores.
//
// StaticDirectory reads a YAML file of the form
//
//	organizations:
//	  - id: acme
//	    operators:
//	      - id: alice
//	        role: owner
//	        can_approve_low: true
//	        can_approve_medium: true
//	        can_approve_high: true
//	        reliability_score: 92
//	      - id: bob
//	        role: manager
//	        allowed_domains: [financial]
//	        can_approve_low: true
//	        daily_limit: 20
package directory
