// Package tenancy resolves which company account (tenant) a signed-in user
// works in and keeps that session safe for the rest of its life.
//
// Flow:
//   - IdentityWatcher follows the identity provider and hands every change
//     to the Engine, tearing down state tied to the previous identity.
//   - TenantResolver loads the user profile, the tenant (through
//     CompanyCache) and the membership, producing one State per identity.
//   - ActiveTenantSelector switches between tenants the user belongs to and
//     persists the choice as a hint in the KeyValueStore.
//   - SessionGuard signs the user out after a period without activity.
//   - IsolationValidator checks tenant scoped keys against the active tenant
//     and clears keys left behind by another tenant.
//
// Observers subscribe to Engine state changes, HTTP surfaces use
// RegisterSessionRoutes, SessionMiddleware, RequireWrite and
// RequirePlatformAdmin, serving state only to the request identity that owns
// it. Activity events flow to an ActivitySink.
package tenancy
